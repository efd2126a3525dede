package models

import "time"

// SecretVersion stores one version of an encrypted secret payload.
type SecretVersion struct {
	ID           int64
	SecretID     int64
	Version      int
	EncryptedDEK []byte
	Ciphertext   []byte
	Nonce        []byte
	CreatedAt    time.Time
	DeletedAt    *time.Time
	Destroyed    bool
}

// VersionInfo is a lightweight summary of one version in metadata responses.
type VersionInfo struct {
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Destroyed bool       `json:"destroyed"`
}

// SecretMetadata describes a secret path, its version history, and the
// per-path write-behavior settings.
type SecretMetadata struct {
	Path               string        `json:"path"`
	CurrentVersion     int           `json:"current_version"`
	MaxVersions        int           `json:"max_versions"` // 0 = unlimited
	CASRequired        bool          `json:"cas_required"`
	DeleteVersionAfter time.Duration `json:"delete_version_after"` // 0 = never
	Versions           []VersionInfo `json:"versions"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// MetadataUpdate carries the settable fields of SecretMetadata. Nil fields
// are left unchanged.
type MetadataUpdate struct {
	MaxVersions        *int           `json:"max_versions,omitempty"`
	CASRequired        *bool          `json:"cas_required,omitempty"`
	DeleteVersionAfter *time.Duration `json:"delete_version_after,omitempty"`
}
