// Package errors holds the error taxonomy of spec §7. All of them are
// sentinel values suitable for errors.Is; components that need to attach
// context wrap them with internal/xerrors.WithStackTrace.
package errors

import "errors"

var (
	// NoHostsAvailable: contact points empty/unresolved, or no host in the
	// query plan was reachable.
	NoHostsAvailable = errors.New("no hosts available")

	// UnableToConnect: session was not CLOSED at connect_async.
	UnableToConnect = errors.New("unable to connect: session is not closed")

	// UnableToClose: session is already closing or closed.
	UnableToClose = errors.New("unable to close: session already closing or closed")

	// UnableToInit: event-loop initialization failed.
	UnableToInit = errors.New("unable to init: event loop initialization failed")

	// UnableToSetKeyspace: USE failed on every initial connector.
	UnableToSetKeyspace = errors.New("unable to set keyspace")

	// RequestQueueFull: the bounded request queue rejected an enqueue.
	RequestQueueFull = errors.New("request queue full")

	// ExecutionProfileInvalid: requested execution profile name does not exist.
	ExecutionProfileInvalid = errors.New("execution profile invalid")

	// CriticalConnectionError: surfaced from the pool connector (auth/proto/TLS).
	CriticalConnectionError = errors.New("critical connection error")

	// RequestTimeout: a request exceeded its request-level timeout.
	RequestTimeout = errors.New("request timeout")

	// PendingRequestTimeout: a request timed out while still queued.
	PendingRequestTimeout = errors.New("pending request timeout")

	// ConnectionTimeout: a pooled connector exceeded its dial/handshake timeout.
	ConnectionTimeout = errors.New("connection timeout")
)

// Is reports whether err matches any of the taxonomy sentinels in targets.
func Is(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}

	return false
}
