package location

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable indicates the provider has no fix source or is disabled.
	ErrUnavailable = errors.New("location: provider unavailable")
	// ErrPermissionDenied indicates the user has not granted location access.
	ErrPermissionDenied = errors.New("location: permission denied")
	// ErrInvalidFix indicates a fix with NaN or out-of-range coordinates.
	ErrInvalidFix = errors.New("location: invalid fix")
)

// Fix is a single position report from the device.
type Fix struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// SubscribeOptions throttles deliveries per subscription.
type SubscribeOptions struct {
	MinInterval           time.Duration
	MinDisplacementMeters float64
}

// Subscription identifies an active subscription.
type Subscription interface {
	ID() int64
}

// Provider delivers position fixes to subscribers. Callbacks for one subscription are never
// invoked concurrently, and none are invoked once Unsubscribe has returned.
type Provider interface {
	Subscribe(opts SubscribeOptions, callback func(Fix)) (Subscription, error)
	Unsubscribe(subscription Subscription)
}

// IsUnavailable reports whether err means location features should degrade silently.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrPermissionDenied)
}
