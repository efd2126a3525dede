package models

import "time"

// DatabaseConnection holds the backing-store address and the admin
// credential the dynamic secrets engine provisions principals with.
// The password is stored encrypted under the seal KEK.
type DatabaseConnection struct {
	Name              string     `json:"name"`
	Type              string     `json:"type"` // postgres, mysql
	URL               string     `json:"url"`  // DSN template with {{username}}/{{password}}
	Username          string     `json:"username"`
	EncryptedPassword []byte     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	RotatedAt         *time.Time `json:"rotated_at,omitempty"`
}

// DatabaseRole is the read-mostly configuration for one class of dynamic
// credential. Statements use {{name}}, {{password}} and {{expiration}}
// placeholders.
type DatabaseRole struct {
	Name                 string        `json:"name"`
	Connection           string        `json:"db_name"`
	CreationStatements   []string      `json:"creation_statements"`
	RevocationStatements []string      `json:"revocation_statements"`
	DefaultTTL           time.Duration `json:"default_ttl"`
	MaxTTL               time.Duration `json:"max_ttl"`
	CreatedAt            time.Time     `json:"created_at"`
}

// StaticRole is a managed, pre-existing account whose password the
// rotation engine changes in place on a schedule.
type StaticRole struct {
	Name               string        `json:"name"`
	Connection         string        `json:"db_name"`
	Username           string        `json:"username"`
	EncryptedPassword  []byte        `json:"-"`
	RotationStatements []string      `json:"rotation_statements"`
	RotationPeriod     time.Duration `json:"rotation_period"`
	LastRotation       *time.Time    `json:"last_vault_rotation,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}
