package location

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
	"go.uber.org/zap"
)

// FeedConfig configures a Feed.
type FeedConfig struct {
	PermissionGranted bool
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Feed is a Provider backed by fixes pushed from the device.
type Feed struct {
	mu          sync.Mutex
	deliverMu   sync.Mutex
	subscribers map[int64]*feedSubscriber
	nextID      int64
	granted     bool
	lastFix     Fix
	hasFix      bool
	clock       func() time.Time
	logger      *zap.Logger
}

type feedSubscriber struct {
	id            int64
	options       SubscribeOptions
	callback      func(Fix)
	lastDelivered *Fix
}

func (s *feedSubscriber) ID() int64 {
	return s.id
}

// NewFeed constructs a Feed.
func NewFeed(cfg FeedConfig) *Feed {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		subscribers: make(map[int64]*feedSubscriber),
		granted:     cfg.PermissionGranted,
		clock:       clock,
		logger:      logger,
	}
}

// Subscribe registers callback for throttled fixes.
func (f *Feed) Subscribe(opts SubscribeOptions, callback func(Fix)) (Subscription, error) {
	if callback == nil {
		return nil, fmt.Errorf("location: callback required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.granted {
		return nil, ErrPermissionDenied
	}
	f.nextID++
	subscriber := &feedSubscriber{id: f.nextID, options: opts, callback: callback}
	f.subscribers[subscriber.id] = subscriber
	f.logger.Debug("location subscription added", zap.Int64("subscription_id", subscriber.id))
	return subscriber, nil
}

// Unsubscribe removes the subscription and waits for any in-flight delivery to finish.
func (f *Feed) Unsubscribe(subscription Subscription) {
	if subscription == nil {
		return
	}
	f.mu.Lock()
	delete(f.subscribers, subscription.ID())
	f.mu.Unlock()

	f.deliverMu.Lock()
	//nolint:staticcheck
	f.deliverMu.Unlock()
	f.logger.Debug("location subscription removed", zap.Int64("subscription_id", subscription.ID()))
}

// SetPermission records whether the user granted location access. Revoking drops the last fix.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = granted
	if !granted {
		f.hasFix = false
		f.lastFix = Fix{}
	}
}

// PermissionGranted reports the current permission state.
func (f *Feed) PermissionGranted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted
}

// LastFix returns the most recent accepted fix.
func (f *Feed) LastFix() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFix, f.hasFix
}

// Publish accepts a fix from the device and delivers it to subscribers whose throttle allows it.
// Deliveries happen in publish order.
func (f *Feed) Publish(fix Fix) error {
	if err := proximity.ValidatePosition(proximity.Position{Latitude: fix.Latitude, Longitude: fix.Longitude}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = f.clock()
	}

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	if !f.granted {
		f.mu.Unlock()
		return ErrPermissionDenied
	}
	f.lastFix = fix
	f.hasFix = true
	due := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		if subscriber.accepts(fix) {
			delivered := fix
			subscriber.lastDelivered = &delivered
			due = append(due, subscriber)
		}
	}
	f.mu.Unlock()

	for _, subscriber := range due {
		f.mu.Lock()
		_, active := f.subscribers[subscriber.id]
		f.mu.Unlock()
		if !active {
			continue
		}
		subscriber.callback(fix)
	}
	return nil
}

func (s *feedSubscriber) accepts(fix Fix) bool {
	if s.lastDelivered == nil {
		return true
	}
	if fix.Timestamp.Sub(s.lastDelivered.Timestamp) < s.options.MinInterval {
		return false
	}
	moved := proximity.Distance(
		proximity.Position{Latitude: s.lastDelivered.Latitude, Longitude: s.lastDelivered.Longitude},
		proximity.Position{Latitude: fix.Latitude, Longitude: fix.Longitude},
	)
	if math.IsNaN(moved) {
		return false
	}
	return moved >= s.options.MinDisplacementMeters
}
