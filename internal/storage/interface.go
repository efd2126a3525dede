package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/credvault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrCASMismatch is returned when a check-and-set write precondition fails.
var ErrCASMismatch = errors.New("check-and-set mismatch")

// ErrVersionDestroyed is returned when an operation targets a destroyed version.
var ErrVersionDestroyed = errors.New("version destroyed")

// StorageBackend defines the persistence interface for credvault.
type StorageBackend interface {
	// Vault initialization
	InitVault(ctx context.Context, data *models.InitData) error
	GetInitData(ctx context.Context) (*models.InitData, error)
	IsInitialized(ctx context.Context) (bool, error)

	// Secrets. WriteSecretVersion assigns the next version number, enforces
	// the CAS precondition (cas==nil: none; *cas==0: path must not exist;
	// otherwise *cas must equal the current max version) and prunes the
	// oldest non-destroyed versions past max_versions, all inside one
	// transaction holding the secret row lock, so concurrent writes to the
	// same path serialize. Returns the version numbers pruned as a side
	// effect.
	WriteSecretVersion(ctx context.Context, path string, v *models.SecretVersion, cas *int) ([]int, error)
	ReadSecretVersion(ctx context.Context, path string, version int) (*models.SecretVersion, error)
	ReadLatestSecretVersion(ctx context.Context, path string) (*models.SecretVersion, error)
	ListSecretPaths(ctx context.Context, prefix string) ([]string, error)
	DeleteSecretVersions(ctx context.Context, path string, versions []int) error
	// UndeleteSecretVersions fails with ErrVersionDestroyed if any listed
	// version has been destroyed.
	UndeleteSecretVersions(ctx context.Context, path string, versions []int) error
	DestroySecretVersions(ctx context.Context, path string, versions []int) error
	GetSecretMetadata(ctx context.Context, path string) (*models.SecretMetadata, error)
	UpdateSecretMetadata(ctx context.Context, path string, update models.MetadataUpdate) error
	DeleteSecretMetadata(ctx context.Context, path string) error

	// Tokens
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error
	RevokeTokenChildren(ctx context.Context, parentID string) error
	RenewToken(ctx context.Context, tokenID string, newExpiresAt time.Time) error

	// Policies
	WritePolicy(ctx context.Context, policy *models.Policy) error
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)
	DeletePolicy(ctx context.Context, name string) error
	ListPolicies(ctx context.Context) ([]string, error)

	// Leases
	PutLease(ctx context.Context, lease *models.Lease) error
	GetLease(ctx context.Context, id string) (*models.Lease, error)
	ListActiveLeases(ctx context.Context) ([]*models.Lease, error)

	// Dynamic secrets engine config
	WriteConnection(ctx context.Context, conn *models.DatabaseConnection) error
	GetConnection(ctx context.Context, name string) (*models.DatabaseConnection, error)
	UpdateConnectionPassword(ctx context.Context, name string, encryptedPassword []byte, rotatedAt time.Time) error
	WriteDatabaseRole(ctx context.Context, role *models.DatabaseRole) error
	GetDatabaseRole(ctx context.Context, name string) (*models.DatabaseRole, error)
	WriteStaticRole(ctx context.Context, role *models.StaticRole) error
	GetStaticRole(ctx context.Context, name string) (*models.StaticRole, error)
	ListStaticRoles(ctx context.Context) ([]*models.StaticRole, error)
	UpdateStaticRolePassword(ctx context.Context, name string, encryptedPassword []byte, rotatedAt time.Time) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountSecrets(ctx context.Context) (int64, error)
	CountActiveLeases(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Path   string
	Since  *time.Time
	Limit  int
	Offset int
}
