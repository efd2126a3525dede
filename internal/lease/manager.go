// Package lease tracks every issued credential as a TTL'd lease and owns
// the expiry/revocation lifecycle. A lease transitions from active to a
// terminal state exactly once; the revocation callback runs under the
// same per-lease lock that performs the transition, so a background sweep
// racing an explicit revoke can never run it twice.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
	"github.com/rs/zerolog"
)

// RevokeFunc undoes whatever the lease provisioned (e.g. drop a database
// role). It must be safe to call once per lease.
type RevokeFunc func(ctx context.Context) error

// CallbackResolver rebuilds a RevokeFunc from a persisted lease, used when
// restoring leases after a restart.
type CallbackResolver func(lease *models.Lease) RevokeFunc

// Manager is the lease registry.
type Manager struct {
	store    storage.StorageBackend
	log      zerolog.Logger
	resolver CallbackResolver

	mu     sync.RWMutex
	leases map[string]*entry

	sweepEvery time.Duration
}

type entry struct {
	mu     sync.Mutex
	lease  *models.Lease
	revoke RevokeFunc
}

// NewManager creates a Manager. sweepEvery controls the background expiry
// sweep interval.
func NewManager(store storage.StorageBackend, log zerolog.Logger, sweepEvery time.Duration) *Manager {
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Second
	}
	return &Manager{
		store:      store,
		log:        log.With().Str("component", "lease").Logger(),
		leases:     map[string]*entry{},
		sweepEvery: sweepEvery,
	}
}

// SetResolver installs the callback resolver used by Restore.
func (m *Manager) SetResolver(r CallbackResolver) {
	m.resolver = r
}

// Register creates and persists a new active lease.
func (m *Manager) Register(ctx context.Context, path string, ttl, maxTTL time.Duration, ref models.RevocationRef, revoke RevokeFunc) (*models.Lease, error) {
	now := time.Now().UTC()
	l := &models.Lease{
		ID:         uuid.NewString(),
		Path:       path,
		IssueTime:  now,
		ExpiresAt:  now.Add(ttl),
		TTL:        ttl,
		MaxTTL:     maxTTL,
		Renewable:  true,
		State:      models.LeaseStateActive,
		Revocation: ref,
	}
	if err := m.store.PutLease(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting lease: %w", err)
	}

	m.mu.Lock()
	m.leases[l.ID] = &entry{lease: l, revoke: revoke}
	m.mu.Unlock()

	m.log.Debug().Str("lease_id", l.ID).Str("path", path).Dur("ttl", ttl).Msg("lease registered")
	return l, nil
}

// Restore loads active leases from storage and reattaches revocation
// callbacks via the resolver. Already-expired leases are picked up by the
// first sweep.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.resolver == nil {
		return 0, errors.New("lease: no callback resolver installed")
	}
	leases, err := m.store.ListActiveLeases(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading leases: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range leases {
		if _, ok := m.leases[l.ID]; ok {
			continue
		}
		m.leases[l.ID] = &entry{lease: l, revoke: m.resolver(l)}
	}
	return len(leases), nil
}

// Lookup returns a copy of the lease, applying lazy expiry first.
func (m *Manager) Lookup(ctx context.Context, id string) (*models.Lease, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m.expireLocked(ctx, e)
	cp := *e.lease
	return &cp, nil
}

// Renew extends the lease by increment (defaulting to its original TTL).
// Fails with RenewalExceedsMaxTTL if the new expiry would pass
// issue_time + max_TTL (a zero max_TTL is unbounded), and with
// LeaseTerminal once the lease has expired or been revoked. Concurrent renewals serialize on the lease
// lock; the last to acquire it wins.
func (m *Manager) Renew(ctx context.Context, id string, increment time.Duration) (*models.Lease, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m.expireLocked(ctx, e)
	if e.lease.IsTerminal() {
		return nil, vaulterr.New(vaulterr.KindLeaseTerminal, "lease %s is %s", id, e.lease.State)
	}
	if !e.lease.Renewable {
		return nil, vaulterr.New(vaulterr.KindInvalidRequest, "lease %s is not renewable", id)
	}
	if increment <= 0 {
		increment = e.lease.TTL
	}

	now := time.Now().UTC()
	// MaxTTL of zero means the lease has no ceiling, matching how roles
	// without max_ttl are issued.
	if e.lease.MaxTTL > 0 && now.Add(increment).Sub(e.lease.IssueTime) > e.lease.MaxTTL {
		return nil, vaulterr.New(vaulterr.KindRenewalExceedsMax,
			"renewal of lease %s by %s exceeds max TTL %s", id, increment, e.lease.MaxTTL)
	}

	e.lease.ExpiresAt = now.Add(increment)
	e.lease.TTL = increment
	if err := m.store.PutLease(ctx, e.lease); err != nil {
		return nil, fmt.Errorf("persisting renewal: %w", err)
	}
	cp := *e.lease
	return &cp, nil
}

// Revoke terminates the lease and runs its revocation callback. Fails
// with LeaseTerminal if the lease already reached a terminal state.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lease.IsTerminal() {
		return vaulterr.New(vaulterr.KindLeaseTerminal, "lease %s is already %s", id, e.lease.State)
	}
	return m.terminateLocked(ctx, e, models.LeaseStateRevoked)
}

// RevokePrefix revokes every active lease whose path starts with prefix.
// Individual callback failures do not abort the batch; they are collected
// and returned joined. Returns the number of leases terminated.
func (m *Manager) RevokePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.RLock()
	var targets []*entry
	for _, e := range m.leases {
		if strings.HasPrefix(e.lease.Path, prefix) {
			targets = append(targets, e)
		}
	}
	m.mu.RUnlock()

	var errs []error
	revoked := 0
	for _, e := range targets {
		e.mu.Lock()
		if e.lease.IsTerminal() {
			e.mu.Unlock()
			continue
		}
		if err := m.terminateLocked(ctx, e, models.LeaseStateRevoked); err != nil {
			errs = append(errs, fmt.Errorf("lease %s: %w", e.lease.ID, err))
		}
		revoked++
		e.mu.Unlock()
	}
	return revoked, errors.Join(errs...)
}

// Start runs the background expiry sweep until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Count returns the number of active leases held in memory.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.leases {
		if !e.lease.IsTerminal() {
			n++
		}
	}
	return n
}

func (m *Manager) sweep(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*entry, 0, len(m.leases))
	for _, e := range m.leases {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		e.mu.Lock()
		m.expireLocked(ctx, e)
		terminal := e.lease.IsTerminal()
		id := e.lease.ID
		e.mu.Unlock()
		if terminal {
			m.mu.Lock()
			delete(m.leases, id)
			m.mu.Unlock()
		}
	}
}

// expireLocked transitions an active lease past its expiry to Expired,
// running the callback. Callers must hold e.mu.
func (m *Manager) expireLocked(ctx context.Context, e *entry) {
	if e.lease.IsTerminal() || time.Now().Before(e.lease.ExpiresAt) {
		return
	}
	if err := m.terminateLocked(ctx, e, models.LeaseStateExpired); err != nil {
		m.log.Error().Err(err).Str("lease_id", e.lease.ID).Msg("expiry revocation callback failed")
	}
}

// terminateLocked performs the single transition to a terminal state and
// runs the revocation callback. The lease is marked terminal even when
// the callback fails; failed callbacks are not retried (operator cleanup).
// Callers must hold e.mu and have checked the lease is active.
func (m *Manager) terminateLocked(ctx context.Context, e *entry, state string) error {
	e.lease.State = state
	if err := m.store.PutLease(ctx, e.lease); err != nil {
		m.log.Error().Err(err).Str("lease_id", e.lease.ID).Msg("persisting terminal lease state failed")
	}
	m.log.Info().Str("lease_id", e.lease.ID).Str("path", e.lease.Path).Str("state", state).Msg("lease terminated")

	if e.revoke == nil {
		return nil
	}
	revoke := e.revoke
	e.revoke = nil // exactly-once
	if err := revoke(ctx); err != nil {
		return fmt.Errorf("revocation callback: %w", err)
	}
	return nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.leases[id]
	m.mu.RUnlock()
	if !ok {
		return nil, vaulterr.NotFound("lease not found: %s", id)
	}
	return e, nil
}
