package models

import "time"

// Token represents an auth token.
type Token struct {
	ID          string
	DisplayName string
	Policies    []string
	TTL         time.Duration
	Renewable   bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	ParentID    *string
}

// IsExpired returns true if the token has passed its expiry time.
func (t *Token) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}
