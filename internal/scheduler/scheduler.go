// Package scheduler triggers the batch decay job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lazypower/keepsake/internal/engine"
	"github.com/lazypower/keepsake/internal/logging"
	"github.com/lazypower/keepsake/internal/memory"
)

const decayLock = "decay"

// DecayRunner runs one decay batch. *engine.Engine satisfies it.
type DecayRunner interface {
	RunDecay(ctx context.Context, scope memory.Owner) (engine.DecaySummary, error)
}

// Scheduler runs decay on a cron schedule. Only the runner holding the
// lock decays on a given tick, so replicas may share one database.
type Scheduler struct {
	cron    *cron.Cron
	runner  DecayRunner
	locker  Locker
	lockTTL time.Duration
}

// New schedules decay at spec (standard 5-field cron). A nil locker uses a
// LocalLocker.
func New(spec string, runner DecayRunner, locker Locker, lockTTL time.Duration) (*Scheduler, error) {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		locker:  locker,
		lockTTL: lockTTL,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule decay %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger := logging.Component("scheduler")
	logger.Info().Time("next", s.Next()).Msg("started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs one locked decay run over every fact. It reports whether
// this runner held the lock.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	logger := logging.Component("scheduler")

	release, ok, err := s.locker.Acquire(ctx, decayLock, s.lockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("decay lock")
		return false
	}
	if !ok {
		logger.Debug().Msg("decay already running elsewhere")
		return false
	}
	defer release()

	if _, err := s.runner.RunDecay(ctx, memory.Owner{}); err != nil {
		logger.Error().Err(err).Msg("decay run failed")
	}
	return true
}
