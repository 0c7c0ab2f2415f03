package auth

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const sessionEventBuffer = 8

// ErrMissingOwner indicates a sign-in without a resolved owner identity.
var ErrMissingOwner = errors.New("sessions: owner identity required")

// SessionEvent reports a sign-in or sign-out on this device.
type SessionEvent struct {
	Owner    string
	Previous string
	SignedIn bool
}

// Sessions tracks the single signed-in owner of this device.
type Sessions struct {
	mu          sync.RWMutex
	owner       string
	email       string
	expiresAt   time.Time
	clock       func() time.Time
	subscribers map[int64]chan SessionEvent
	nextID      int64
}

// NewSessions returns an empty session holder.
func NewSessions(clock func() time.Time) *Sessions {
	if clock == nil {
		clock = time.Now
	}
	return &Sessions{
		clock:       clock,
		subscribers: make(map[int64]chan SessionEvent),
	}
}

// SignIn makes owner the current identity until claims expire.
func (s *Sessions) SignIn(owner string, claims SessionClaims) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return ErrMissingOwner
	}
	s.mu.Lock()
	previous := s.owner
	s.owner = owner
	s.email = strings.TrimSpace(claims.UserEmail)
	s.expiresAt = claims.Expiry()
	s.mu.Unlock()

	s.publish(SessionEvent{Owner: owner, Previous: previous, SignedIn: true})
	return nil
}

// SignOut clears the current identity. Signing out twice is harmless.
func (s *Sessions) SignOut() {
	s.mu.Lock()
	previous := s.owner
	s.owner = ""
	s.email = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	if previous != "" {
		s.publish(SessionEvent{Previous: previous, SignedIn: false})
	}
}

// Expire signs out a session whose claims have lapsed and reports whether it did.
func (s *Sessions) Expire() bool {
	s.mu.Lock()
	previous := s.owner
	lapsed := previous != "" && !s.expiresAt.IsZero() && !s.clock().Before(s.expiresAt)
	if lapsed {
		s.owner = ""
		s.email = ""
		s.expiresAt = time.Time{}
	}
	s.mu.Unlock()

	if lapsed {
		s.publish(SessionEvent{Previous: previous, SignedIn: false})
	}
	return lapsed
}

// CurrentOwner returns the signed-in owner while the session is still valid.
func (s *Sessions) CurrentOwner() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner == "" {
		return "", false
	}
	if !s.expiresAt.IsZero() && !s.clock().Before(s.expiresAt) {
		return "", false
	}
	return s.owner, true
}

// CurrentEmail returns the email attached to the current session, if any.
func (s *Sessions) CurrentEmail() string {
	if _, ok := s.CurrentOwner(); !ok {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// Subscribe returns a buffered stream of session events. Slow readers miss events rather than block sign-in.
func (s *Sessions) Subscribe() (<-chan SessionEvent, func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	stream := make(chan SessionEvent, sessionEventBuffer)
	s.subscribers[id] = stream
	s.mu.Unlock()

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			close(stream)
			s.mu.Unlock()
		})
	}
}

func (s *Sessions) publish(event SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stream := range s.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}
