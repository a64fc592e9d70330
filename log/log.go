// Package log provides the vendor-neutral logging seam used by the trace
// hook tables: components never call a concrete logging library directly,
// they format a message plus structured fields and hand it to a Logger.
package log

import "context"

// Field is a single structured key/value pair attached to a log line.
type Field interface {
	Key() string
	String() string
}

type field struct {
	key string
	val string
}

func (f field) Key() string    { return f.key }
func (f field) String() string { return f.val }

func String(key, val string) Field { return field{key: key, val: val} }
func Error(err error) Field {
	if err == nil {
		return field{key: "error", val: ""}
	}

	return field{key: "error", val: err.Error()}
}
func Int(key string, v int) Field    { return field{key: key, val: itoa(v)}}
func Bool(key string, v bool) Field  { return field{key: key, val: btoa(v)} }
func Address(addr string) Field      { return field{key: "address", val: addr} }

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}

func btoa(v bool) string {
	if v {
		return "true"
	}

	return "false"
}

// Level mirrors the teacher's log.Level enum (spec carries no logging
// requirement of its own; this is ambient stack per SPEC_FULL.md).
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// Logger is implemented by the zap-backed default in log/zap.go and by
// test doubles.
type Logger interface {
	Log(ctx context.Context, level Level, msg string, fields ...Field)
}

type noop struct{}

func (noop) Log(context.Context, Level, string, ...Field) {}

// Noop discards everything; used as the default when no logger is configured.
var Noop Logger = noop{}
