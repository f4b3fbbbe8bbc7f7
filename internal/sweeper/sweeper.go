// Package sweeper reconciles persisted run state on a schedule. It is the
// safety net behind the live bookkeeping: runs that stalled (crash, lost
// worker, dropped jobs) are finished or failed, and projects left running
// without any run are forced back to stopped.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

// Config controls the reconciliation schedule.
type Config struct {
	Enabled bool

	// StuckSpec runs the stuck-run pass. Default: every 2 minutes.
	StuckSpec string
	// HealthSpec runs the health summary. Default: every 10 minutes.
	HealthSpec string

	// StuckAfter is how old a running run must be before the stuck pass
	// will touch it.
	StuckAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.StuckSpec == "" {
		c.StuckSpec = "*/2 * * * *"
	}
	if c.HealthSpec == "" {
		c.HealthSpec = "*/10 * * * *"
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
	return c
}

// Finalizer is the slice of the lifecycle tracker the sweeper needs.
type Finalizer interface {
	FinalizeRun(ctx context.Context, runID, projectID, status string) error
	CheckAndUpdateProjectStatus(ctx context.Context, runID, projectID string) (bool, error)
	Stats(ctx context.Context, runID string) (storage.RunStats, error)
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store   storage.Store
	tracker Finalizer

	c *cron.Cron
}

func New(cfg Config, store storage.Store, tracker Finalizer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log.With(logx.String("component", "sweeper")),
		store:   store,
		tracker: tracker,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.StuckSpec, func() { s.runStuckPass(ctx) }); err != nil {
		s.log.Error("invalid stuck pass spec", logx.String("spec", s.cfg.StuckSpec), logx.Err(err))
		return
	}
	if _, err := c.AddFunc(s.cfg.HealthSpec, func() { s.runHealthPass(ctx) }); err != nil {
		s.log.Error("invalid health pass spec", logx.String("spec", s.cfg.HealthSpec), logx.Err(err))
		return
	}
	c.Start()
	s.c = c
	s.log.Info("sweeper started",
		logx.String("stuck_spec", s.cfg.StuckSpec),
		logx.String("health_spec", s.cfg.HealthSpec),
		logx.Duration("stuck_after", s.cfg.StuckAfter),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("sweeper stopped")
}

// runStuckPass finishes runs the live path lost track of:
//   - counters already satisfied: finalize as completed
//   - old enough and nothing left in the queue: finalize as failed
//   - running projects with no run at all: force back to stopped
//
// It is exported through the cron schedule but safe to call directly.
func (s *Service) runStuckPass(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-s.cfg.StuckAfter)

	runs, err := s.store.ListStaleRunningRuns(ctx, cutoff)
	if err != nil {
		s.log.Error("stuck pass: listing runs failed", logx.Err(err))
		return
	}

	var completed, failed int
	var pendingByRun map[string]int
	for _, run := range runs {
		done, err := s.tracker.CheckAndUpdateProjectStatus(ctx, run.ID, run.ProjectID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.Error("stuck pass: finalize failed", logx.String("run_id", run.ID), logx.Err(err))
			}
			continue
		}
		if done {
			completed++
			continue
		}
		stats, err := s.tracker.Stats(ctx, run.ID)
		if err != nil {
			continue
		}

		if pendingByRun == nil {
			pendingByRun, err = s.pendingCounts(ctx)
			if err != nil {
				s.log.Error("stuck pass: listing pending jobs failed", logx.Err(err))
				return
			}
		}
		if pendingByRun[run.ID] > 0 {
			// Work is still queued; leave the run alone.
			continue
		}
		if stats.TotalJobs > 0 && stats.CompletedJobs == 0 {
			// Nothing ever completed and nothing is queued. That points
			// at a wiring problem rather than lost completions, so flag
			// it for a human instead of guessing a terminal state.
			s.log.Warn("stale run needs investigation",
				logx.String("run_id", run.ID),
				logx.String("project_id", run.ProjectID),
				logx.Int("total_jobs", stats.TotalJobs))
			_ = s.store.AppendRunLog(ctx, run.ID, "warn",
				"run stalled with zero completed jobs; investigation needed")
			continue
		}
		if err := s.tracker.FinalizeRun(ctx, run.ID, run.ProjectID, storage.RunFailed); err != nil {
			s.log.Error("stuck pass: finalize failed", logx.String("run_id", run.ID), logx.Err(err))
			continue
		}
		_ = s.store.AppendRunLog(ctx, run.ID, "error", "run marked failed: stuck with no queued jobs")
		failed++
	}

	orphans, err := s.store.ListRunningProjectsWithoutRun(ctx)
	if err != nil {
		s.log.Error("stuck pass: listing orphan projects failed", logx.Err(err))
		return
	}
	for _, p := range orphans {
		if err := s.store.SetProjectStatus(ctx, p.ID, storage.ProjectStopped); err != nil {
			s.log.Error("stuck pass: stopping orphan project failed",
				logx.String("project_id", p.ID), logx.Err(err))
			continue
		}
		s.log.Warn("stopped orphan project", logx.String("project_id", p.ID))
	}

	if completed+failed+len(orphans) > 0 {
		s.log.Info("stuck pass finished",
			logx.Int("completed", completed),
			logx.Int("failed", failed),
			logx.Int("orphans", len(orphans)),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Service) runHealthPass(ctx context.Context) {
	counts, err := s.store.CountRunning(ctx)
	if err != nil {
		s.log.Error("health pass failed", logx.Err(err))
		return
	}
	s.log.Info("health",
		logx.Int("running_projects", counts.RunningProjects),
		logx.Int("running_runs", counts.RunningRuns),
	)
}

func (s *Service) pendingCounts(ctx context.Context) (map[string]int, error) {
	pending, err := s.store.ListPendingJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(pending))
	for _, j := range pending {
		out[j.RunID]++
	}
	return out, nil
}
