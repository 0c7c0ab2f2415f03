package users

import (
	"strings"
	"time"
)

// Identity links a login at the auth provider to the owner id stamped on every record.
// Email is stored lowercase.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320;index:idx_identities_email_seen,priority:1"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;index:idx_identities_email_seen,priority:2"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "user_identities"
}

func identityKey(provider, subject string) string {
	return provider + ":" + subject
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// normalizeEmail lowercases an address and blanks anything without a local part and a domain.
func normalizeEmail(value string) string {
	email := strings.ToLower(normalize(value))
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return ""
	}
	return email
}
