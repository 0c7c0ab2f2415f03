package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownEmail indicates no identity carries the email address.
	ErrUnknownEmail = errors.New("users: unknown email")
)

const defaultProvider = "default"

// ServiceConfig describes the dependencies required for owner resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves session claims to owner ids and remembers the identities it has seen.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveOwner returns the owner id for the session claims, recording the identity on first sight.
func (s *Service) ResolveOwner(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := identityKey(provider, subject)
	if cached, ok := s.cache.Load(cacheKey); ok {
		if owner, ok := cached.(string); ok {
			s.touch(ctx, provider, subject, claims)
			return owner, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalizeEmail(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return "", fmt.Errorf("users: create identity: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("users: load identity: %w", err)
	default:
		s.touch(ctx, provider, subject, claims)
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// LookupByEmail finds the most recently seen identity with the email address.
func (s *Service) LookupByEmail(ctx context.Context, email string) (Identity, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return Identity{}, ErrUnknownEmail
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_email = ?", normalized).
		Order("last_seen_at DESC").
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownEmail
	}
	if err != nil {
		return Identity{}, fmt.Errorf("users: lookup email: %w", err)
	}
	return identity, nil
}

// touch refreshes profile fields and last-seen time. Failures only delay the refresh.
func (s *Service) touch(ctx context.Context, provider, subject string, claims auth.SessionClaims) {
	updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
	if email := normalizeEmail(claims.UserEmail); email != "" {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" {
		updates["user_display_name"] = display
	}
	_ = s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).
		Error
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if head, tail, found := strings.Cut(raw, ":"); found {
			if normalize(head) != "" && normalize(tail) != "" {
				provider = normalize(head)
				subject = normalize(tail)
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalizeEmail(claims.UserEmail)
	}

	return provider, subject
}
