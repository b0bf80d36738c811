// Package dlog wraps zap.Logger with the fields the runtime attaches on
// every actor-related log line. The teacher logs with bare log.Printf
// (environment.go, activations.go); the rest of the retrieved corpus
// (AKJUS-bsc-erigon) shows go.uber.org/zap is the idiomatic choice for a
// server-shaped Go project, so darlean threads a *Logger through
// constructors instead of calling the standard log package directly.
package dlog

import (
	"go.uber.org/zap"
)

// Logger is a thin façade over zap.Logger that pins the appId field and
// offers WithActor/WithAction helpers used at call sites across wrapper,
// container, lock, registry and portal.
type Logger struct {
	z *zap.Logger
}

// New builds a production-configured Logger tagged with appID. Callers that
// need a no-op logger for tests should use Nop().
func New(appID string) (*Logger, error) {
	z, err := zap.NewProduction(zap.Fields(zap.String("appId", appID)))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Nop returns a Logger that discards everything, for use in tests and
// library-embedding scenarios that haven't configured logging.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) WithActor(actorType, actorID string) *Logger {
	return &Logger{z: l.z.With(zap.String("actorType", actorType), zap.String("actorId", actorID))}
}

func (l *Logger) WithAction(action string) *Logger {
	return &Logger{z: l.z.With(zap.String("action", action))}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries; callers should defer it from
// main().
func (l *Logger) Sync() error { return l.z.Sync() }

// Raw exposes the underlying *zap.Logger for packages that want to build
// additional fields inline (zap.Field constructors are cheap and
// allocation-free, unlike building a []interface{} for Printf).
func (l *Logger) Raw() *zap.Logger { return l.z }
