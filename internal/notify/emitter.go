package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Alert is a user-visible proximity notification.
type Alert struct {
	DedupeKey      string
	Owner          string
	WatchID        string
	Title          string
	Body           string
	DistanceMeters float64
	Timestamp      time.Time
}

// Emitter renders and dispatches alerts. Implementations should tolerate repeated keys.
type Emitter interface {
	Notify(ctx context.Context, alert Alert) error
}

// Fanout delivers each alert to every emitter and joins their errors.
type Fanout []Emitter

func (f Fanout) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, emitter := range f {
		if emitter == nil {
			continue
		}
		if err := emitter.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes alerts to the structured log.
type LogEmitter struct {
	Logger *zap.Logger
}

func (e LogEmitter) Notify(_ context.Context, alert Alert) error {
	logger := e.Logger
	if logger == nil {
		return nil
	}
	logger.Info("location alert",
		zap.String("owner", alert.Owner),
		zap.String("watch_id", alert.WatchID),
		zap.String("title", alert.Title),
		zap.Float64("distance_m", alert.DistanceMeters),
	)
	return nil
}
