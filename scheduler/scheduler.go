package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs reconciliation four times a day.
const DefaultSchedule = "@every 6h"

// Rebuilder recomputes every stored aggregate from the ledger.
type Rebuilder interface {
	RebuildAll(ctx context.Context) (int, error)
}

// Scheduler runs periodic maintenance such as stats reconciliation.
type Scheduler struct {
	cron      *cron.Cron
	rebuilder Rebuilder
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// New creates a scheduler. An empty schedule means DefaultSchedule.
func New(rebuilder Rebuilder, schedule string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		rebuilder: rebuilder,
		schedule:  schedule,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start registers the reconciliation job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()), "schedule", s.schedule)
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce reconciles all aggregates now.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	n, err := s.rebuilder.RebuildAll(ctx)

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("stats reconciliation failed", "rebuilt", n, "error", err)
		return err
	}
	s.logger.Info("stats reconciled", "rebuilt", n, "duration", time.Since(started))
	return nil
}

// LastRun reports when reconciliation last ran and how it ended.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
