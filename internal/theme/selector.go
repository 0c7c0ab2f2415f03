package theme

import (
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Theme names the UI color scheme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"

	// DefaultDarkBelowLux is the ambient light level under which the dark theme applies.
	DefaultDarkBelowLux = 20.0
)

// ErrInvalidReading indicates a negative or non-finite lux value.
var ErrInvalidReading = errors.New("theme: invalid light reading")

// Selector picks a theme from the latest ambient light reading.
type Selector struct {
	mu        sync.RWMutex
	threshold float64
	current   Theme
	lux       float64
	hasLux    bool
	logger    *zap.Logger
}

// NewSelector starts in the light theme. A non-positive threshold uses DefaultDarkBelowLux.
func NewSelector(threshold float64, logger *zap.Logger) *Selector {
	if threshold <= 0 || math.IsNaN(threshold) {
		threshold = DefaultDarkBelowLux
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{threshold: threshold, current: Light, logger: logger}
}

// Observe records a lux reading and returns the resulting theme and whether it changed.
func (s *Selector) Observe(lux float64) (Theme, bool, error) {
	if math.IsNaN(lux) || math.IsInf(lux, 0) || lux < 0 {
		return s.Current(), false, ErrInvalidReading
	}
	next := Light
	if lux < s.threshold {
		next = Dark
	}

	s.mu.Lock()
	changed := next != s.current
	s.current = next
	s.lux = lux
	s.hasLux = true
	s.mu.Unlock()

	if changed {
		s.logger.Debug("theme changed", zap.String("theme", string(next)), zap.Float64("lux", lux))
	}
	return next, changed, nil
}

// Current returns the active theme.
func (s *Selector) Current() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LastReading returns the most recent lux value, if any.
func (s *Selector) LastReading() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lux, s.hasLux
}
