package conn

import (
	"context"
	"net"

	"github.com/booknouse/cpp-driver/config"
)

// SASLHandshaker is the concrete Handshaker the pooled connector uses: an
// optional bearer-token auth exchange followed by an optional keyspace SET,
// the two steps spec §4.A's PooledConnector performs before a connection is
// handed to its pool. Grounded on the original driver's
// Connector::on_handshake / on_ready sequence (authenticate, then USE the
// connect keyspace).
type SASLHandshaker struct {
	// Credentials issues the bearer token; a nil Credentials skips
	// authentication entirely (a TCP-only deployment).
	Credentials config.Credentials
}

// Handshake authenticates (if Credentials is set) and sets the keyspace (if
// non-empty). An authentication failure is critical (spec §4.A: the
// connector attempt is unrecoverable, not merely retryable); a keyspace
// failure is reported as KeyspaceError so the fan-out can distinguish "bad
// keyspace" from "bad host".
func (h *SASLHandshaker) Handshake(ctx context.Context, socket net.Conn, keyspace string) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = socket.SetWriteDeadline(deadline)
	}

	if h.Credentials != nil {
		token, err := h.Credentials.Token()
		if err != nil {
			return &HandshakeError{Critical: true, Cause: err}
		}
		if _, err := socket.Write([]byte("AUTH " + token + "\n")); err != nil {
			return &HandshakeError{Critical: true, Cause: err}
		}
	}

	if keyspace == "" {
		return nil
	}

	if _, err := socket.Write([]byte("USE " + keyspace + "\n")); err != nil {
		return &HandshakeError{KeyspaceError: true, Cause: err}
	}

	return nil
}
