package stack

import (
	"fmt"
	"runtime"
)

// Record captures a single call-site frame for inclusion in wrapped errors.
// It is intentionally lightweight: one runtime.Caller lookup, no full
// debug.Stack() capture.
type Record struct {
	file string
	line int
	fn   string
}

func Frame(skip int) Record {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Record{}
	}

	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}

	return Record{file: file, line: line, fn: name}
}

func (r Record) String() string {
	if r.file == "" {
		return "unknown"
	}

	return fmt.Sprintf("%s:%d (%s)", r.file, r.line, r.fn)
}

func (r Record) IsZero() bool {
	return r.file == "" && r.line == 0
}
