package records

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
)

// DefaultRadiusMeters applies when a watch is saved without a radius.
const DefaultRadiusMeters = 100

const maxTitleLength = 512

var (
	// ErrAuthenticationRequired indicates a store call without an owner identity.
	ErrAuthenticationRequired = errors.New("records: authentication required")
	// ErrInvalidRecord indicates input that fails field validation.
	ErrInvalidRecord = errors.New("records: invalid record")
	// ErrNotFound indicates no record with the id exists for the owner.
	ErrNotFound = errors.New("records: not found")
)

// Task is a to-do item with an optional due date.
type Task struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID      string     `gorm:"column:user_id;size:190;not null;index:idx_tasks_user_order,priority:1" json:"-"`
	Title       string     `gorm:"column:title;size:512;not null" json:"title"`
	Description string     `gorm:"column:description;type:text;not null;default:''" json:"description"`
	DueAt       *time.Time `gorm:"column:due_at;index:idx_tasks_user_order,priority:3" json:"due_at,omitempty"`
	Completed   bool       `gorm:"column:completed;not null;default:false;index:idx_tasks_user_order,priority:2" json:"completed"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// TaskInput carries the editable task fields.
type TaskInput struct {
	Title       string
	Description string
	DueAt       *time.Time
	Completed   bool
}

func (in TaskInput) normalize() (TaskInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateTitle(in.Title); err != nil {
		return TaskInput{}, err
	}
	if in.DueAt != nil {
		due := in.DueAt.UTC()
		in.DueAt = &due
	}
	return in, nil
}

// Note is a free-form text record.
type Note struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_notes_user_created,priority:1" json:"-"`
	Title     string    `gorm:"column:title;size:512;not null" json:"title"`
	Body      string    `gorm:"column:body;type:text;not null;default:''" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notes_user_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// NoteInput carries the editable note fields.
type NoteInput struct {
	Title string
	Body  string
}

func (in NoteInput) normalize() (NoteInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateTitle(in.Title); err != nil {
		return NoteInput{}, err
	}
	return in, nil
}

// LocationWatch is a place the owner wants to be reminded about.
type LocationWatch struct {
	ID                   string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID               string    `gorm:"column:user_id;size:190;not null;index:idx_watches_user_created,priority:1" json:"-"`
	Title                string    `gorm:"column:title;size:512;not null" json:"title"`
	Description          string    `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Address              string    `gorm:"column:address;size:512;not null;default:''" json:"address"`
	Latitude             float64   `gorm:"column:latitude;not null" json:"latitude"`
	Longitude            float64   `gorm:"column:longitude;not null" json:"longitude"`
	RadiusMeters         int       `gorm:"column:radius_m;not null;default:100" json:"radius_m"`
	NotificationsEnabled bool      `gorm:"column:notifications_enabled;not null;default:false" json:"notifications_enabled"`
	CreatedAt            time.Time `gorm:"column:created_at;not null;index:idx_watches_user_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (LocationWatch) TableName() string {
	return "location_watches"
}

// Target builds the monitor's runtime copy. Disabled watches yield false.
func (w LocationWatch) Target() (proximity.Target, bool) {
	if !w.NotificationsEnabled {
		return proximity.Target{}, false
	}
	return proximity.Target{
		ID:           w.ID,
		Title:        w.Title,
		Latitude:     w.Latitude,
		Longitude:    w.Longitude,
		RadiusMeters: w.RadiusMeters,
		Owner:        w.UserID,
	}, true
}

// WatchInput carries the editable watch fields. A zero radius means DefaultRadiusMeters.
type WatchInput struct {
	Title                string
	Description          string
	Address              string
	Latitude             float64
	Longitude            float64
	RadiusMeters         int
	NotificationsEnabled bool
}

func (in WatchInput) normalize() (WatchInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Address = strings.TrimSpace(in.Address)
	if err := validateTitle(in.Title); err != nil {
		return WatchInput{}, err
	}
	if math.IsNaN(in.Latitude) || in.Latitude < -90 || in.Latitude > 90 {
		return WatchInput{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidRecord, in.Latitude)
	}
	if math.IsNaN(in.Longitude) || in.Longitude < -180 || in.Longitude > 180 {
		return WatchInput{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidRecord, in.Longitude)
	}
	if in.RadiusMeters == 0 {
		in.RadiusMeters = DefaultRadiusMeters
	}
	if in.RadiusMeters < 1 {
		return WatchInput{}, fmt.Errorf("%w: radius %d below 1m", ErrInvalidRecord, in.RadiusMeters)
	}
	return in, nil
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: title required", ErrInvalidRecord)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidRecord, maxTitleLength)
	}
	return nil
}
