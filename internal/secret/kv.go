package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/policy"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
)

// KVEngine implements a versioned KV secret store. Payloads are encrypted
// with a per-version DEK wrapped by the seal KEK.
type KVEngine struct {
	store  storage.StorageBackend
	seal   *core.SealManager
	policy *policy.Engine
}

// NewKVEngine creates a KVEngine.
func NewKVEngine(store storage.StorageBackend, seal *core.SealManager, pol *policy.Engine) *KVEngine {
	return &KVEngine{store: store, seal: seal, policy: pol}
}

// Write stores a new version of a secret at path. cas is the caller's
// expected current version (nil: no check; 0: path must not exist yet).
// Returns the assigned version number.
func (e *KVEngine) Write(ctx context.Context, token *models.Token, path string, data map[string]string, cas *int) (int, error) {
	op := models.CapUpdate
	if _, err := e.store.GetSecretMetadata(ctx, path); errors.Is(err, storage.ErrNotFound) {
		op = models.CapCreate
	}
	if err := e.policy.Authorize(ctx, token.Policies, op, "secret/data/"+path); err != nil {
		return 0, err
	}
	denied := e.policy.DeniedParameters(ctx, token.Policies, "secret/data/"+path)
	for key := range data {
		if denied[key] {
			return 0, vaulterr.PermissionDenied("parameter %q is denied on %s", key, path)
		}
	}

	kek, err := e.seal.KEK()
	if err != nil {
		return 0, err
	}
	defer zeroBytes(kek)

	plaintext, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshaling secret data: %w", err)
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return 0, err
	}
	defer zeroBytes(dek)

	ciphertext, nonce, err := crypto.EncryptAESGCM(plaintext, dek)
	if err != nil {
		return 0, fmt.Errorf("encrypting secret: %w", err)
	}
	encDEK, err := crypto.Seal(dek, kek)
	if err != nil {
		return 0, fmt.Errorf("wrapping DEK: %w", err)
	}

	v := &models.SecretVersion{
		EncryptedDEK: encDEK,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := e.store.WriteSecretVersion(ctx, path, v, cas); err != nil {
		if errors.Is(err, storage.ErrCASMismatch) {
			return 0, vaulterr.CASMismatch("check-and-set failed for %s", path)
		}
		return 0, fmt.Errorf("storing secret version: %w", err)
	}
	return v.Version, nil
}

// Read retrieves a secret version. version=0 means latest. The returned
// VersionInfo describes the version actually read, so callers can report
// its number and timestamps rather than the path-level metadata's.
func (e *KVEngine) Read(ctx context.Context, token *models.Token, path string, version int) (map[string]string, *models.VersionInfo, *models.SecretMetadata, error) {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapRead, "secret/data/"+path); err != nil {
		return nil, nil, nil, err
	}

	kek, err := e.seal.KEK()
	if err != nil {
		return nil, nil, nil, err
	}
	defer zeroBytes(kek)

	meta, err := e.store.GetSecretMetadata(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, nil, vaulterr.NotFound("secret not found: %s", path)
		}
		return nil, nil, nil, err
	}

	var sv *models.SecretVersion
	if version == 0 {
		sv, err = e.store.ReadLatestSecretVersion(ctx, path)
	} else {
		sv, err = e.store.ReadSecretVersion(ctx, path, version)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, nil, vaulterr.NotFound("secret not found: %s", path)
		}
		return nil, nil, nil, err
	}

	if sv.Destroyed {
		return nil, nil, nil, vaulterr.Destroyed("version %d of %s has been destroyed", sv.Version, path)
	}
	if sv.DeletedAt != nil {
		// The version number is kept in the error for recovery guidance.
		return nil, nil, nil, vaulterr.Deleted("version %d of %s has been deleted", sv.Version, path)
	}
	if meta.DeleteVersionAfter > 0 && time.Since(sv.CreatedAt) > meta.DeleteVersionAfter {
		// Enforced lazily; the row is marked so subsequent metadata reads agree.
		_ = e.store.DeleteSecretVersions(ctx, path, []int{sv.Version})
		return nil, nil, nil, vaulterr.Deleted("version %d of %s has expired", sv.Version, path)
	}

	dek, err := crypto.Open(sv.EncryptedDEK, kek)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unwrapping DEK: %w", err)
	}
	defer zeroBytes(dek)

	plaintext, err := crypto.DecryptAESGCM(sv.Ciphertext, sv.Nonce, dek)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypting secret: %w", err)
	}

	var data map[string]string
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, nil, nil, fmt.Errorf("deserializing secret: %w", err)
	}
	info := &models.VersionInfo{
		Version:   sv.Version,
		CreatedAt: sv.CreatedAt,
		DeletedAt: sv.DeletedAt,
		Destroyed: sv.Destroyed,
	}
	return data, info, meta, nil
}

// List lists one level of hierarchy under prefix. Child directories carry
// a trailing slash, leaf secrets do not.
func (e *KVEngine) List(ctx context.Context, token *models.Token, prefix string) ([]string, error) {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapList, "secret/metadata/"+prefix); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	paths, err := e.store.ListSecretPaths(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var keys []string
	for _, p := range paths {
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		var key string
		if i := strings.Index(rest, "/"); i >= 0 {
			key = rest[:i+1] // directory
		} else {
			key = rest
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SoftDelete marks the listed versions deleted (default: latest); reversible.
func (e *KVEngine) SoftDelete(ctx context.Context, token *models.Token, path string, versions []int) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapDelete, "secret/data/"+path); err != nil {
		return err
	}
	if len(versions) == 0 {
		meta, err := e.store.GetSecretMetadata(ctx, path)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return vaulterr.NotFound("secret not found: %s", path)
			}
			return err
		}
		versions = []int{meta.CurrentVersion}
	}
	return e.store.DeleteSecretVersions(ctx, path, versions)
}

// Undelete restores soft-deleted versions. Fails with AlreadyDestroyed if
// any listed version was destroyed.
func (e *KVEngine) Undelete(ctx context.Context, token *models.Token, path string, versions []int) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, "secret/undelete/"+path); err != nil {
		return err
	}
	if err := e.store.UndeleteSecretVersions(ctx, path, versions); err != nil {
		if errors.Is(err, storage.ErrVersionDestroyed) {
			return vaulterr.New(vaulterr.KindAlreadyDestroyed, "cannot undelete destroyed versions of %s", path)
		}
		return err
	}
	return nil
}

// Destroy irreversibly clears the listed versions' payloads. Idempotent.
func (e *KVEngine) Destroy(ctx context.Context, token *models.Token, path string, versions []int) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapDelete, "secret/destroy/"+path); err != nil {
		return err
	}
	return e.store.DestroySecretVersions(ctx, path, versions)
}

// GetMetadata returns secret metadata without decrypting.
func (e *KVEngine) GetMetadata(ctx context.Context, token *models.Token, path string) (*models.SecretMetadata, error) {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapRead, "secret/metadata/"+path); err != nil {
		return nil, err
	}
	meta, err := e.store.GetSecretMetadata(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, vaulterr.NotFound("secret not found: %s", path)
		}
		return nil, err
	}
	return meta, nil
}

// SetMetadata updates per-path write settings.
func (e *KVEngine) SetMetadata(ctx context.Context, token *models.Token, path string, update models.MetadataUpdate) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, "secret/metadata/"+path); err != nil {
		return err
	}
	return e.store.UpdateSecretMetadata(ctx, path, update)
}

// DeleteMetadata removes the secret entity and its full version history.
func (e *KVEngine) DeleteMetadata(ctx context.Context, token *models.Token, path string) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapDelete, "secret/metadata/"+path); err != nil {
		return err
	}
	return e.store.DeleteSecretMetadata(ctx, path)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
