package models

import "time"

// Capability constants for policy path rules.
const (
	CapCreate = "create"
	CapRead   = "read"
	CapUpdate = "update"
	CapDelete = "delete"
	CapList   = "list"
	CapSudo   = "sudo"
	CapDeny   = "deny"
)

// PathRule defines what capabilities are granted (or denied) on a path
// pattern. DeniedParameters lists payload keys a write may not contain.
type PathRule struct {
	Capabilities     []string `json:"capabilities"`
	DeniedParameters []string `json:"denied_parameters,omitempty"`
}

// HasCapability returns true if the rule grants the given capability.
// Deny is checked by the engine before grants are consulted.
func (p PathRule) HasCapability(cap string) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// IsDeny returns true if the rule carries the deny capability.
func (p PathRule) IsDeny() bool {
	return p.HasCapability(CapDeny)
}

// Policy is a named set of path-based access rules.
type Policy struct {
	Name      string              `json:"name"`
	Rules     map[string]PathRule `json:"path"` // path pattern → rule
	CreatedAt time.Time           `json:"created_at,omitempty"`
	UpdatedAt time.Time           `json:"updated_at,omitempty"`
}
