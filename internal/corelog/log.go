// Package corelog wraps a *zap.Logger with the three fixed events the
// core's logging contract prescribes: partition load completion,
// cache-write failure, and partition fetch failure. No other package
// calls zap directly, keeping the event shapes stable.
package corelog

import (
	"time"

	"go.uber.org/zap"
)

// Logger emits the core's fixed logging events.
type Logger struct {
	z *zap.Logger
}

// New wraps an existing zap logger. Passing nil falls back to a
// production JSON logger, matching the teacher pack's zap setup.
func New(z *zap.Logger) *Logger {
	if z == nil {
		built, err := zap.NewProduction()
		if err != nil {
			built = zap.NewNop()
		}
		z = built
	}
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything, for tests and callers
// that don't want log output.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// PartitionLoaded logs INFO on partition load completion.
func (l *Logger) PartitionLoaded(partition int, numTables int, avgUniqueAccounts float64, duration time.Duration) {
	l.z.Info("partition loaded",
		zap.Int("partition", partition),
		zap.Int("num_tables", numTables),
		zap.Float64("avg_unique_accounts", avgUniqueAccounts),
		zap.Duration("duration", duration),
	)
}

// CacheWriteFailed logs WARNING on cache write failure.
func (l *Logger) CacheWriteFailed(partition int, err error) {
	l.z.Warn("partition cache write failed",
		zap.Int("partition", partition),
		zap.Error(err),
	)
}

// PartitionFetchFailed logs ERROR on partition fetch failure.
func (l *Logger) PartitionFetchFailed(partition int, err error) {
	l.z.Error("partition fetch failed",
		zap.Int("partition", partition),
		zap.Error(err),
	)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
