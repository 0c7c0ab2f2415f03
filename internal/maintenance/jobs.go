package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

// Expirer ends a lapsed session and reports whether it did.
type Expirer interface {
	Expire() bool
}

// DedupeSweepJob prunes elapsed alert dedupe windows.
func DedupeSweepJob(store Sweeper, interval time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     "dedupe_sweep",
		Interval: interval,
		Run: func(context.Context) {
			if removed := store.Sweep(); removed > 0 {
				logger.Debug("dedupe windows swept", zap.Int("removed", removed))
			}
		},
	}
}

// SessionExpiryJob signs out a session whose token lapsed so watchers hear about it.
func SessionExpiryJob(sessions Expirer, interval time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     "session_expiry",
		Interval: interval,
		Run: func(context.Context) {
			if sessions.Expire() {
				logger.Info("session expired")
			}
		},
	}
}
