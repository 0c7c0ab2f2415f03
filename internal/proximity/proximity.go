package proximity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultHysteresisMargin is the distance in meters past the radius that clears a triggered target.
const DefaultHysteresisMargin = 50.0

const (
	earthRadiusMeters = 6371008.8
	minRadiusMeters   = 1
)

var (
	// ErrMalformedPosition indicates a position with NaN or out-of-range coordinates.
	ErrMalformedPosition = errors.New("proximity: malformed position")
	// ErrMalformedTarget indicates a target with a missing id or owner, or bad geometry.
	ErrMalformedTarget = errors.New("proximity: malformed target")
)

// Event enumerates the outcomes of a single evaluation.
type Event int

const (
	// EventNone leaves the target untouched.
	EventNone Event = iota
	// EventEnter fires once per dwell inside the radius.
	EventEnter
	// EventExit clears the triggered flag; it never notifies.
	EventExit
)

func (e Event) String() string {
	switch e {
	case EventEnter:
		return "enter"
	case EventExit:
		return "exit"
	default:
		return "none"
	}
}

// Position is a WGS84 coordinate pair in degrees.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Target is the runtime copy of a watched place held by the monitor.
type Target struct {
	ID           string
	Title        string
	Latitude     float64
	Longitude    float64
	RadiusMeters int
	Owner        string
	Triggered    bool
}

// Position returns the target center.
func (t Target) Position() Position {
	return Position{Latitude: t.Latitude, Longitude: t.Longitude}
}

// Decision is the result of evaluating one target against one position.
type Decision struct {
	Event          Event
	DistanceMeters float64
	Malformed      error
}

// Engine evaluates targets with a fixed hysteresis margin.
type Engine struct {
	Margin float64
}

// NewEngine returns an engine using margin, or DefaultHysteresisMargin when margin is not positive.
func NewEngine(margin float64) Engine {
	if margin <= 0 || math.IsNaN(margin) || math.IsInf(margin, 0) {
		margin = DefaultHysteresisMargin
	}
	return Engine{Margin: margin}
}

// Evaluate computes the distance from position to target and applies the enter/exit policy,
// mutating target.Triggered on Enter and Exit. Malformed inputs yield EventNone.
func (e Engine) Evaluate(position Position, target *Target) Decision {
	if err := ValidatePosition(position); err != nil {
		return Decision{Event: EventNone, DistanceMeters: math.NaN(), Malformed: err}
	}
	if err := ValidateTarget(target); err != nil {
		return Decision{Event: EventNone, DistanceMeters: math.NaN(), Malformed: err}
	}

	distance := Distance(position, target.Position())
	radius := float64(target.RadiusMeters)

	switch {
	case distance <= radius && !target.Triggered:
		target.Triggered = true
		return Decision{Event: EventEnter, DistanceMeters: distance}
	case distance > radius+e.margin() && target.Triggered:
		target.Triggered = false
		return Decision{Event: EventExit, DistanceMeters: distance}
	default:
		return Decision{Event: EventNone, DistanceMeters: distance}
	}
}

func (e Engine) margin() float64 {
	if e.Margin <= 0 || math.IsNaN(e.Margin) {
		return DefaultHysteresisMargin
	}
	return e.Margin
}

// Distance returns the great-circle distance in meters using the haversine formula.
func Distance(a, b Position) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	deltaLat := toRadians(b.Latitude - a.Latitude)
	deltaLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(deltaLat / 2)
	sinLon := math.Sin(deltaLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ValidatePosition reports whether p holds finite in-range coordinates.
func ValidatePosition(p Position) error {
	if !validCoordinates(p.Latitude, p.Longitude) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrMalformedPosition, p.Latitude, p.Longitude)
	}
	return nil
}

// ValidateTarget reports whether t can be evaluated.
func ValidateTarget(t *Target) error {
	if t == nil {
		return fmt.Errorf("%w: nil target", ErrMalformedTarget)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedTarget)
	}
	if strings.TrimSpace(t.Owner) == "" {
		return fmt.Errorf("%w: missing owner", ErrMalformedTarget)
	}
	if !validCoordinates(t.Latitude, t.Longitude) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrMalformedTarget, t.Latitude, t.Longitude)
	}
	if t.RadiusMeters < minRadiusMeters {
		return fmt.Errorf("%w: radius %d", ErrMalformedTarget, t.RadiusMeters)
	}
	return nil
}

// FormatDistance renders a distance label for list views.
func FormatDistance(meters float64) string {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return "unknown"
	}
	if meters < 1000 {
		return fmt.Sprintf("%.0fm away", meters)
	}
	return fmt.Sprintf("%.1fkm away", meters/1000)
}

func validCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
