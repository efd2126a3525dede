package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStore struct {
	storage.StorageBackend
	mu    sync.Mutex
	roles map[string]*models.StaticRole
}

func newStaticStore() *staticStore {
	return &staticStore{roles: map[string]*models.StaticRole{}}
}

func (s *staticStore) put(role *models.StaticRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *role
	s.roles[role.Name] = &cp
}

func (s *staticStore) ListStaticRoles(_ context.Context) ([]*models.StaticRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StaticRole
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *staticStore) GetStaticRole(_ context.Context, name string) (*models.StaticRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

// fakeRotator counts RotateStatic calls and can be told to fail the
// first n of them. A successful call stamps LastRotation like the real
// engine does.
type fakeRotator struct {
	store *staticStore

	mu       sync.Mutex
	calls    map[string][]time.Time
	failNext map[string]int
}

func newFakeRotator(store *staticStore) *fakeRotator {
	return &fakeRotator{
		store:    store,
		calls:    map[string][]time.Time{},
		failNext: map[string]int{},
	}
}

func (f *fakeRotator) RotateStatic(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name] = append(f.calls[name], time.Now())
	if f.failNext[name] > 0 {
		f.failNext[name]--
		return errors.New("backend rejected rotation")
	}
	now := time.Now().UTC()
	f.store.mu.Lock()
	if r, ok := f.store.roles[name]; ok {
		r.LastRotation = &now
	}
	f.store.mu.Unlock()
	return nil
}

func (f *fakeRotator) callTimes(name string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls[name]...)
}

func newTestScheduler(store *staticStore, rot *fakeRotator) *Scheduler {
	s := NewScheduler(store, rot, zerolog.Nop())
	s.minDelay = 5 * time.Millisecond
	return s
}

func waitForCalls(t *testing.T, rot *fakeRotator, name string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rot.callTimes(name)) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("role %s: wanted %d rotation calls, got %d", name, want, len(rot.callTimes(name)))
}

func TestSchedulerRotatesOverdueRoleOnStart(t *testing.T) {
	store := newStaticStore()
	past := time.Now().Add(-2 * time.Hour).UTC()
	store.put(&models.StaticRole{
		Name:           "reporting",
		Username:       "reporting-svc",
		RotationPeriod: time.Hour,
		LastRotation:   &past,
	})
	rot := newFakeRotator(store)
	s := newTestScheduler(store, rot)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForCalls(t, rot, "reporting", 1)
}

func TestSchedulerRearmsAfterSuccess(t *testing.T) {
	store := newStaticStore()
	store.put(&models.StaticRole{
		Name:           "reporting",
		Username:       "reporting-svc",
		RotationPeriod: 30 * time.Millisecond,
	})
	rot := newFakeRotator(store)
	s := newTestScheduler(store, rot)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForCalls(t, rot, "reporting", 3)
}

func TestSchedulerRetriesNextPeriodNotImmediately(t *testing.T) {
	store := newStaticStore()
	period := 80 * time.Millisecond
	store.put(&models.StaticRole{
		Name:           "reporting",
		Username:       "reporting-svc",
		RotationPeriod: period,
	})
	rot := newFakeRotator(store)
	rot.failNext["reporting"] = 1
	s := newTestScheduler(store, rot)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForCalls(t, rot, "reporting", 2)
	calls := rot.callTimes("reporting")[:2]
	gap := calls[1].Sub(calls[0])
	assert.GreaterOrEqual(t, gap, period/2,
		"a failed rotation must wait for the next period, not retry at once")
}

func TestSchedulerUntrackStopsRotation(t *testing.T) {
	store := newStaticStore()
	store.put(&models.StaticRole{
		Name:           "reporting",
		Username:       "reporting-svc",
		RotationPeriod: 20 * time.Millisecond,
	})
	rot := newFakeRotator(store)
	s := newTestScheduler(store, rot)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForCalls(t, rot, "reporting", 1)
	s.Untrack("reporting")
	time.Sleep(60 * time.Millisecond)
	n := len(rot.callTimes("reporting"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(rot.callTimes("reporting")))
}

func TestSchedulerStopIsClean(t *testing.T) {
	store := newStaticStore()
	store.put(&models.StaticRole{
		Name:           "reporting",
		Username:       "reporting-svc",
		RotationPeriod: 10 * time.Millisecond,
	})
	rot := newFakeRotator(store)
	s := newTestScheduler(store, rot)
	require.NoError(t, s.Start(context.Background()))
	waitForCalls(t, rot, "reporting", 1)
	s.Stop()

	n := len(rot.callTimes("reporting"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(rot.callTimes("reporting")), "no rotations may fire after Stop")
}
