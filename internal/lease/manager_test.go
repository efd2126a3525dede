package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaseStore is an in-memory StorageBackend exposing only the lease
// methods the manager touches.
type leaseStore struct {
	storage.StorageBackend
	mu     sync.Mutex
	leases map[string]*models.Lease
}

func newLeaseStore() *leaseStore {
	return &leaseStore{leases: map[string]*models.Lease{}}
}

func (s *leaseStore) PutLease(_ context.Context, l *models.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.leases[l.ID] = &cp
	return nil
}

func (s *leaseStore) GetLease(_ context.Context, id string) (*models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *leaseStore) ListActiveLeases(_ context.Context) ([]*models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Lease
	for _, l := range s.leases {
		if l.State == models.LeaseStateActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestManager() (*Manager, *leaseStore) {
	store := newLeaseStore()
	return NewManager(store, zerolog.Nop(), time.Hour), store
}

func TestRenewWithinMaxTTL(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	l, err := m.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour, models.RevocationRef{}, nil)
	require.NoError(t, err)

	renewed, err := m.Renew(ctx, l.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, renewed.TTL)
	assert.True(t, renewed.ExpiresAt.After(l.ExpiresAt))
}

func TestRenewExceedsMaxTTL(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	l, err := m.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour, models.RevocationRef{}, nil)
	require.NoError(t, err)

	_, err = m.Renew(ctx, l.ID, 48*time.Hour)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindRenewalExceedsMax, vaulterr.KindOf(err))
}

func TestRenewWithoutMaxTTLIsUnbounded(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	// A role configured without max_ttl issues leases with MaxTTL zero;
	// those stay renewable indefinitely.
	l, err := m.Register(ctx, "database/creds/readonly", time.Hour, 0, models.RevocationRef{}, nil)
	require.NoError(t, err)

	renewed, err := m.Renew(ctx, l.ID, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, renewed.TTL)

	_, err = m.Renew(ctx, l.ID, 24*365*time.Hour)
	require.NoError(t, err)
}

func TestRevokeRunsCallbackOnce(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	var calls int32
	l, err := m.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour, models.RevocationRef{},
		func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, l.ID))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Operating on a terminal lease fails LeaseTerminal, callback not re-run.
	err = m.Revoke(ctx, l.ID)
	assert.Equal(t, vaulterr.KindLeaseTerminal, vaulterr.KindOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	persisted, err := store.GetLease(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStateRevoked, persisted.State)
}

func TestConcurrentRevokeAndExpiryRunCallbackOnce(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	var calls int32
	l, err := m.Register(ctx, "database/creds/readonly", time.Millisecond, 24*time.Hour, models.RevocationRef{},
		func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // lease is now past expiry

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Revoke(ctx, l.ID)
			m.sweep(ctx)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "callback must run exactly once")
}

func TestRenewAfterExpiryFailsTerminal(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	l, err := m.Register(ctx, "database/creds/readonly", time.Millisecond, time.Hour, models.RevocationRef{}, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = m.Renew(ctx, l.ID, time.Hour)
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindLeaseTerminal, vaulterr.KindOf(err))
}

func TestRevokePrefix(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	var calls int32
	mkCallback := func(fail bool) RevokeFunc {
		return func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			if fail {
				return errors.New("backend gone")
			}
			return nil
		}
	}

	a, _ := m.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour, models.RevocationRef{}, mkCallback(false))
	b, _ := m.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour, models.RevocationRef{}, mkCallback(true))
	c, _ := m.Register(ctx, "database/creds/admin", time.Hour, 24*time.Hour, models.RevocationRef{}, mkCallback(false))

	revoked, err := m.RevokePrefix(ctx, "database/creds/readonly")
	assert.Equal(t, 2, revoked)
	require.Error(t, err, "partial callback failure must be reported")

	// Every lease under the prefix is terminal, each callback ran once,
	// including the failing one; the lease outside the prefix is untouched.
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	for _, id := range []string{a.ID, b.ID} {
		got, lookupErr := m.Lookup(ctx, id)
		require.NoError(t, lookupErr)
		assert.Equal(t, models.LeaseStateRevoked, got.State)
	}
	got, err := m.Lookup(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStateActive, got.State)
}

func TestRestoreReattachesCallbacks(t *testing.T) {
	store := newLeaseStore()
	m1 := NewManager(store, zerolog.Nop(), time.Hour)
	ctx := context.Background()

	l, err := m1.Register(ctx, "database/creds/readonly", time.Hour, 24*time.Hour,
		models.RevocationRef{Engine: "database", Role: "readonly", Username: "v-readonly-x"}, nil)
	require.NoError(t, err)

	var calls int32
	m2 := NewManager(store, zerolog.Nop(), time.Hour)
	m2.SetResolver(func(restored *models.Lease) RevokeFunc {
		assert.Equal(t, "v-readonly-x", restored.Revocation.Username)
		return func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}
	})
	n, err := m2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m2.Revoke(ctx, l.ID))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSweepRemovesTerminalLeases(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	l, err := m.Register(ctx, "database/creds/readonly", time.Millisecond, time.Hour, models.RevocationRef{}, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	m.sweep(ctx)
	assert.Equal(t, 0, m.Count())
	_, err = m.Lookup(ctx, l.ID)
	assert.Equal(t, vaulterr.KindNotFound, vaulterr.KindOf(err))
}
