// Package rotation schedules in-place password rotation for managed
// static accounts. Each role gets its own timer; a failed rotation is
// retried when the next period elapses, never immediately, so a
// misbehaving backend is not hammered.
package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var scheduledRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "credvault_scheduled_rotations_total",
	Help: "Scheduled static-role rotations, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(scheduledRotations)
}

// Rotator is the piece of the database engine the scheduler drives.
type Rotator interface {
	RotateStatic(ctx context.Context, roleName string) error
}

// Scheduler owns one timer per static role and fires RotateStatic when a
// role's rotation period elapses.
type Scheduler struct {
	store   storage.StorageBackend
	rotator Rotator
	log     zerolog.Logger

	// minDelay floors every timer so overdue roles do not all fire in
	// the same instant at startup.
	minDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(store storage.StorageBackend, rotator Rotator, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		rotator:  rotator,
		log:      log.With().Str("component", "rotation").Logger(),
		minDelay: time.Second,
		timers:   map[string]*time.Timer{},
	}
}

// Start loads every static role and arms its timer. Roles already past
// due rotate after a short grace delay rather than all at startup
// instantly competing for the backend.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	roles, err := s.store.ListStaticRoles(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		s.Track(role)
	}
	s.log.Info().Int("roles", len(roles)).Msg("rotation scheduler started")
	return nil
}

// Track arms (or re-arms) the timer for one static role. Safe to call
// when a role is created or reconfigured while the scheduler runs.
func (s *Scheduler) Track(role *models.StaticRole) {
	delay := time.Until(nextRotation(role, time.Now()))
	if delay < s.minDelay {
		delay = s.minDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	if old, ok := s.timers[role.Name]; ok {
		old.Stop()
	}
	name := role.Name
	s.timers[name] = time.AfterFunc(delay, func() { s.fire(name) })
}

// Untrack stops the timer for a deleted role.
func (s *Scheduler) Untrack(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop cancels all timers and waits for an in-flight rotation to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	err := s.rotator.RotateStatic(ctx, name)
	if err != nil {
		scheduledRotations.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("static_role", name).
			Msg("scheduled rotation failed; will retry next period")
	} else {
		scheduledRotations.WithLabelValues("success").Inc()
	}

	// Re-arm from the stored role so a reconfigured period takes effect.
	// On failure the full period still elapses before the retry.
	role, loadErr := s.store.GetStaticRole(ctx, name)
	if loadErr != nil {
		s.Untrack(name)
		return
	}
	if err != nil {
		s.rearm(name, role.RotationPeriod)
		return
	}
	s.Track(role)
}

func (s *Scheduler) rearm(name string, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.timers[name] = time.AfterFunc(period, func() { s.fire(name) })
}

// nextRotation is LastRotation + RotationPeriod, or now for a role that
// has never been rotated.
func nextRotation(role *models.StaticRole, now time.Time) time.Time {
	if role.LastRotation == nil {
		return now
	}
	return role.LastRotation.Add(role.RotationPeriod)
}
