package models

import "time"

// Lease states. A lease is created active and transitions exactly once to
// one of the terminal states.
const (
	LeaseStateActive  = "active"
	LeaseStateExpired = "expired"
	LeaseStateRevoked = "revoked"
)

// RevocationRef describes what must be undone when a lease terminates.
// It is persisted alongside the lease so the callback can be rebuilt
// after a restart.
type RevocationRef struct {
	Engine     string `json:"engine"` // "database"
	Connection string `json:"connection"`
	Role       string `json:"role"`
	Username   string `json:"username"`
}

// Lease tracks one issued credential or TTL'd grant.
type Lease struct {
	ID         string        `json:"lease_id"`
	Path       string        `json:"path"` // e.g. database/creds/readonly
	IssueTime  time.Time     `json:"issue_time"`
	ExpiresAt  time.Time     `json:"expires_at"`
	TTL        time.Duration `json:"ttl"`
	MaxTTL     time.Duration `json:"max_ttl"`
	Renewable  bool          `json:"renewable"`
	State      string        `json:"state"`
	Revocation RevocationRef `json:"revocation"`
}

// IsTerminal returns true once the lease has been revoked or expired.
func (l *Lease) IsTerminal() bool {
	return l.State != LeaseStateActive
}
