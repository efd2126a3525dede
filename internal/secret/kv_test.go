package secret

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/policy"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
)

// kvStore implements just enough of the storage interface for engine tests.
type kvStore struct {
	storage.StorageBackend
	mu       sync.Mutex
	meta     map[string]*models.SecretMetadata
	versions map[string][]*models.SecretVersion
	policies map[string]*models.Policy
}

func newKVStore() *kvStore {
	return &kvStore{
		meta:     map[string]*models.SecretMetadata{},
		versions: map[string][]*models.SecretVersion{},
		policies: map[string]*models.Policy{
			"admin": {
				Name: "admin",
				Rules: map[string]models.PathRule{
					"*": {Capabilities: []string{
						models.CapCreate, models.CapRead, models.CapUpdate,
						models.CapDelete, models.CapList,
					}},
				},
			},
		},
	}
}

func (s *kvStore) GetPolicy(_ context.Context, name string) (*models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[name]; ok {
		return p, nil
	}
	return nil, storage.ErrNotFound
}

func (s *kvStore) WriteSecretVersion(_ context.Context, path string, v *models.SecretVersion, cas *int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.meta[path]
	if meta == nil {
		if cas != nil && *cas != 0 {
			return nil, storage.ErrCASMismatch
		}
		meta = &models.SecretMetadata{Path: path, CreatedAt: v.CreatedAt}
		s.meta[path] = meta
	} else {
		if meta.CASRequired && cas == nil {
			return nil, storage.ErrCASMismatch
		}
		if cas != nil && *cas != meta.CurrentVersion {
			return nil, storage.ErrCASMismatch
		}
	}

	v.Version = meta.CurrentVersion + 1
	s.versions[path] = append(s.versions[path], v)
	meta.CurrentVersion = v.Version
	meta.UpdatedAt = v.CreatedAt

	var pruned []int
	if meta.MaxVersions > 0 {
		live := 0
		for _, sv := range s.versions[path] {
			if !sv.Destroyed {
				live++
			}
		}
		for _, sv := range s.versions[path] {
			if live <= meta.MaxVersions {
				break
			}
			if !sv.Destroyed {
				sv.Destroyed = true
				sv.EncryptedDEK = nil
				sv.Ciphertext = nil
				pruned = append(pruned, sv.Version)
				live--
			}
		}
	}
	return pruned, nil
}

func (s *kvStore) ReadSecretVersion(_ context.Context, path string, version int) (*models.SecretVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[path] {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *kvStore) ReadLatestSecretVersion(_ context.Context, path string) (*models.SecretVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[path]
	if len(vs) == 0 {
		return nil, storage.ErrNotFound
	}
	return vs[len(vs)-1], nil
}

func (s *kvStore) GetSecretMetadata(_ context.Context, path string) (*models.SecretMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meta[path]; ok {
		return m, nil
	}
	return nil, storage.ErrNotFound
}

func (s *kvStore) UpdateSecretMetadata(_ context.Context, path string, update models.MetadataUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.meta[path]
	if meta == nil {
		meta = &models.SecretMetadata{Path: path, CreatedAt: time.Now().UTC()}
		s.meta[path] = meta
	}
	if update.MaxVersions != nil {
		meta.MaxVersions = *update.MaxVersions
	}
	if update.CASRequired != nil {
		meta.CASRequired = *update.CASRequired
	}
	if update.DeleteVersionAfter != nil {
		meta.DeleteVersionAfter = *update.DeleteVersionAfter
	}
	return nil
}

func (s *kvStore) DeleteSecretVersions(_ context.Context, path string, versions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, v := range s.versions[path] {
		for _, ver := range versions {
			if v.Version == ver {
				v.DeletedAt = &now
			}
		}
	}
	return nil
}

func (s *kvStore) UndeleteSecretVersions(_ context.Context, path string, versions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[path] {
		for _, ver := range versions {
			if v.Version == ver {
				if v.Destroyed {
					return storage.ErrVersionDestroyed
				}
				v.DeletedAt = nil
			}
		}
	}
	return nil
}

func (s *kvStore) DestroySecretVersions(_ context.Context, path string, versions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[path] {
		for _, ver := range versions {
			if v.Version == ver {
				v.Destroyed = true
				v.EncryptedDEK = nil
				v.Ciphertext = nil
			}
		}
	}
	return nil
}

func (s *kvStore) ListSecretPaths(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.meta {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestKV(t *testing.T) (*KVEngine, *kvStore, *models.Token) {
	t.Helper()
	store := newKVStore()
	seal := core.NewSealManager()
	rootKey, err := crypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generating root key: %v", err)
	}
	if err := seal.UnsealWithRootKey(rootKey); err != nil {
		t.Fatalf("unsealing: %v", err)
	}
	eng := NewKVEngine(store, seal, policy.NewEngine(store))
	token := &models.Token{ID: "t1", Policies: []string{"admin"}}
	return eng, store, token
}

func TestWriteReadRoundTrip(t *testing.T) {
	eng, _, token := newTestKV(t)
	ctx := context.Background()

	version, err := eng.Write(ctx, token, "app/db", map[string]string{"password": "hunter2"}, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	data, info, meta, err := eng.Read(ctx, token, "app/db", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if data["password"] != "hunter2" {
		t.Errorf("expected hunter2, got %q", data["password"])
	}
	if info.Version != 1 || meta.CurrentVersion != 1 {
		t.Errorf("expected version 1, got %d (current %d)", info.Version, meta.CurrentVersion)
	}
}

func TestCiphertextNotPlaintext(t *testing.T) {
	eng, store, token := newTestKV(t)
	ctx := context.Background()

	if _, err := eng.Write(ctx, token, "app/db", map[string]string{"password": "supersecret"}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	store.mu.Lock()
	stored := store.versions["app/db"][0].Ciphertext
	store.mu.Unlock()
	if string(stored) == `{"password":"supersecret"}` {
		t.Error("payload stored in plaintext")
	}
}

func TestMaxVersionsPrunesOldest(t *testing.T) {
	eng, store, token := newTestKV(t)
	ctx := context.Background()

	maxVersions := 2
	if err := eng.SetMetadata(ctx, token, "app/db", models.MetadataUpdate{MaxVersions: &maxVersions}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	for _, v := range []string{"one", "two", "three"} {
		if _, err := eng.Write(ctx, token, "app/db", map[string]string{"v": v}, nil); err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}

	store.mu.Lock()
	v1 := store.versions["app/db"][0]
	store.mu.Unlock()
	if !v1.Destroyed {
		t.Error("version 1 should be pruned once max_versions is exceeded")
	}

	if _, _, _, err := eng.Read(ctx, token, "app/db", 1); !vaulterr.Is(err, vaulterr.KindDestroyed) {
		t.Errorf("expected Destroyed reading pruned version, got %v", err)
	}
	if data, _, _, err := eng.Read(ctx, token, "app/db", 0); err != nil || data["v"] != "three" {
		t.Errorf("latest should survive pruning, got %v / %v", data, err)
	}
}

func TestDeleteVersionAfterLazyExpiry(t *testing.T) {
	eng, store, token := newTestKV(t)
	ctx := context.Background()

	ttl := time.Hour
	if err := eng.SetMetadata(ctx, token, "app/db", models.MetadataUpdate{DeleteVersionAfter: &ttl}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	if _, err := eng.Write(ctx, token, "app/db", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Age the version past the deadline.
	store.mu.Lock()
	store.versions["app/db"][0].CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	store.mu.Unlock()

	if _, _, _, err := eng.Read(ctx, token, "app/db", 0); !vaulterr.Is(err, vaulterr.KindDeleted) {
		t.Fatalf("expected Deleted for an expired version, got %v", err)
	}

	// The read marked the row; the version stays soft-deleted, not destroyed.
	store.mu.Lock()
	v := store.versions["app/db"][0]
	store.mu.Unlock()
	if v.DeletedAt == nil {
		t.Error("expired version should be marked deleted")
	}
	if v.Destroyed {
		t.Error("expiry must not destroy the version")
	}
}

func TestSoftDeleteDefaultsToLatest(t *testing.T) {
	eng, store, token := newTestKV(t)
	ctx := context.Background()

	for _, v := range []string{"one", "two"} {
		if _, err := eng.Write(ctx, token, "app/db", map[string]string{"v": v}, nil); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := eng.SoftDelete(ctx, token, "app/db", nil); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	store.mu.Lock()
	deleted := store.versions["app/db"][1].DeletedAt != nil
	untouched := store.versions["app/db"][0].DeletedAt == nil
	store.mu.Unlock()
	if !deleted || !untouched {
		t.Error("only the latest version should be soft-deleted")
	}
}

func TestDeniedParametersRejectWrite(t *testing.T) {
	eng, store, token := newTestKV(t)
	ctx := context.Background()

	store.mu.Lock()
	store.policies["admin"].Rules["secret/data/app/*"] = models.PathRule{
		Capabilities:     []string{models.CapCreate, models.CapUpdate},
		DeniedParameters: []string{"ssn"},
	}
	store.mu.Unlock()

	_, err := eng.Write(ctx, token, "app/db", map[string]string{"ssn": "000-00-0000"}, nil)
	if !vaulterr.Is(err, vaulterr.KindPermissionDenied) {
		t.Errorf("expected PermissionDenied for a denied parameter, got %v", err)
	}

	if _, err := eng.Write(ctx, token, "app/db", map[string]string{"name": "ok"}, nil); err != nil {
		t.Errorf("write without denied parameters should succeed, got %v", err)
	}
}

func TestReadWhileSealed(t *testing.T) {
	store := newKVStore()
	seal := core.NewSealManager()
	eng := NewKVEngine(store, seal, policy.NewEngine(store))
	token := &models.Token{ID: "t1", Policies: []string{"admin"}}

	_, err := eng.Write(context.Background(), token, "app/db", map[string]string{"k": "v"}, nil)
	if !vaulterr.Is(err, vaulterr.KindSealed) {
		t.Errorf("expected Sealed, got %v", err)
	}
}

func TestUndeleteDestroyedVersion(t *testing.T) {
	eng, _, token := newTestKV(t)
	ctx := context.Background()

	if _, err := eng.Write(ctx, token, "app/db", map[string]string{"k": "v"}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := eng.Destroy(ctx, token, "app/db", []int{1}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	err := eng.Undelete(ctx, token, "app/db", []int{1})
	if !vaulterr.Is(err, vaulterr.KindAlreadyDestroyed) {
		t.Errorf("expected AlreadyDestroyed, got %v", err)
	}
	// Destroy is idempotent.
	if err := eng.Destroy(ctx, token, "app/db", []int{1}); err != nil {
		t.Errorf("repeated destroy should succeed, got %v", err)
	}
}

func TestCASMismatchSurfaced(t *testing.T) {
	eng, _, token := newTestKV(t)
	ctx := context.Background()

	zero := 0
	if _, err := eng.Write(ctx, token, "app/db", map[string]string{"k": "v1"}, &zero); err != nil {
		t.Fatalf("cas=0 create: %v", err)
	}
	_, err := eng.Write(ctx, token, "app/db", map[string]string{"k": "v2"}, &zero)
	if !vaulterr.Is(err, vaulterr.KindCASMismatch) {
		t.Errorf("expected CASMismatch, got %v", err)
	}
	if errors.Is(err, storage.ErrCASMismatch) {
		t.Error("storage sentinel must not leak through the engine")
	}
}
