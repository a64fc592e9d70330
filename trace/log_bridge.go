package trace

import (
	"context"

	"github.com/booknouse/cpp-driver/log"
)

// WithLogger builds a Driver that writes events to logger (flush and
// dispatch hooks are left unset), grounded on
// the teacher's practice of a trace-to-log bridge living alongside the hook
// table rather than scattering logger calls through business logic.
func WithLogger(logger log.Logger) *Driver {
	ctx := context.Background()

	return &Driver{
		OnSessionStateChange: func(i SessionStateChangeInfo) {
			fields := []log.Field{log.String("from", i.From), log.String("to", i.To)}
			if i.Err != nil {
				fields = append(fields, log.Error(i.Err))
				logger.Log(ctx, log.WARN, "session state change", fields...)

				return
			}
			logger.Log(ctx, log.INFO, "session state change", fields...)
		},
		OnHostUp: func(i HostInfo) {
			logger.Log(ctx, log.INFO, "host up", log.Address(i.Address))
		},
		OnHostDown: func(i HostInfo) {
			logger.Log(ctx, log.WARN, "host down", log.Address(i.Address))
		},
		OnHostAdded: func(i HostInfo) {
			logger.Log(ctx, log.INFO, "host added", log.Address(i.Address))
		},
		OnHostRemoved: func(i HostInfo) {
			logger.Log(ctx, log.INFO, "host removed", log.Address(i.Address))
		},
		OnPoolOpen: func(i PoolInfo) {
			logger.Log(ctx, log.DEBUG, "pool open", log.Address(i.Address), log.Int("size", i.Size))
		},
		OnPoolClose: func(i PoolInfo) {
			logger.Log(ctx, log.DEBUG, "pool closed", log.Address(i.Address))
		},
		OnConnectorAttempt: func(i ConnectorInfo) func(error) {
			return func(err error) {
				if err != nil {
					logger.Log(ctx, log.WARN, "connector attempt failed",
						log.Address(i.Address), log.Int("attempt", i.Attempt), log.Error(err))

					return
				}
				logger.Log(ctx, log.DEBUG, "connector attempt ok",
					log.Address(i.Address), log.Int("attempt", i.Attempt))
			}
		},
		OnReconnectScheduled: func(i ReconnectInfo) {
			logger.Log(ctx, log.INFO, "reconnect scheduled", log.Address(i.Address))
		},
		OnCriticalError: func(i CriticalErrorInfo) {
			logger.Log(ctx, log.ERROR, "critical connection error", log.Address(i.Address), log.Error(i.Err))
		},
		OnKeyspaceChanged: func(keyspace string) {
			logger.Log(ctx, log.INFO, "keyspace changed", log.String("keyspace", keyspace))
		},
	}
}
