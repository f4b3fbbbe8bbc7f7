// Package lifecycle owns run bookkeeping: per-job completion counters,
// auto-completion when the last job lands, and the run/project state
// flip that follows.
//
// All counter updates for a run are serialized through a per-run mutex.
// Two jobs finishing at the same instant both land in the counters; the
// lost-update window of a bare read-modify-write does not exist here.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"blastd/internal/eventbus"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

type Tracker struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus

	mu   sync.Mutex
	runs map[string]*sync.Mutex
}

func New(store storage.Store, log logx.Logger, bus eventbus.Bus) *Tracker {
	return &Tracker{
		store: store,
		log:   log.With(logx.String("component", "lifecycle")),
		bus:   bus,
		runs:  make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) runLock(runID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	mu, ok := t.runs[runID]
	if !ok {
		mu = &sync.Mutex{}
		t.runs[runID] = mu
	}
	return mu
}

// forget drops the per-run mutex once the run is terminal. Late callers
// simply get a fresh mutex; correctness never depends on the map entry.
func (t *Tracker) forget(runID string) {
	t.mu.Lock()
	delete(t.runs, runID)
	t.mu.Unlock()
}

// SetTotalJobs records the job count for a run before any job executes,
// so completion checks never see a zero total mid-run.
func (t *Tracker) SetTotalJobs(ctx context.Context, runID string, total int) error {
	mu := t.runLock(runID)
	mu.Lock()
	defer mu.Unlock()

	raw, ok, err := t.store.GetRunStatsRaw(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	stats, valid := storage.DecodeRunStats(raw)
	if !valid {
		t.log.Warn("repairing corrupt run stats", logx.String("run_id", runID))
	}
	stats.TotalJobs = total
	return t.store.SetRunStats(ctx, runID, stats)
}

// CompleteJob records one terminal job outcome. It is the only writer of
// completion counters; the queue calls it exactly once per executed job.
func (t *Tracker) CompleteJob(ctx context.Context, runID, projectID, jobID string, success bool) error {
	mu := t.runLock(runID)
	mu.Lock()

	raw, ok, err := t.store.GetRunStatsRaw(ctx, runID)
	if err != nil {
		mu.Unlock()
		return err
	}
	if !ok {
		mu.Unlock()
		t.log.Warn("completion for unknown run",
			logx.String("run_id", runID), logx.String("job_id", jobID))
		return nil
	}

	stats, valid := storage.DecodeRunStats(raw)
	if !valid {
		t.log.Warn("repairing corrupt run stats",
			logx.String("run_id", runID), logx.String("raw", raw))
	}

	stats.CompletedJobs++
	if success {
		stats.SuccessCount++
	} else {
		stats.ErrorCount++
	}

	if err := t.setStatsRetry(ctx, runID, stats); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	t.publish(eventbus.TypeStatsUpdated, map[string]any{
		"run_id":         runID,
		"project_id":     projectID,
		"total_jobs":     stats.TotalJobs,
		"completed_jobs": stats.CompletedJobs,
		"success_count":  stats.SuccessCount,
		"error_count":    stats.ErrorCount,
	})
	t.log.Debug("job completion recorded",
		logx.String("run_id", runID),
		logx.String("job_id", jobID),
		logx.Bool("success", success),
		logx.Int("completed", stats.CompletedJobs),
		logx.Int("total", stats.TotalJobs),
	)

	if stats.Done() {
		return t.FinalizeRun(ctx, runID, projectID, storage.RunCompleted)
	}
	return nil
}

// setStatsRetry persists counters with one immediate retry. A transient
// write failure must not silently lose a completion.
func (t *Tracker) setStatsRetry(ctx context.Context, runID string, stats storage.RunStats) error {
	err := t.store.SetRunStats(ctx, runID, stats)
	if err == nil {
		return nil
	}
	t.log.Warn("stats write failed, retrying", logx.String("run_id", runID), logx.Err(err))
	time.Sleep(50 * time.Millisecond)
	return t.store.SetRunStats(ctx, runID, stats)
}

// FinalizeRun moves a run to the given terminal status and stops its
// project. Calling it twice, or for an already-terminal run, is a no-op.
func (t *Tracker) FinalizeRun(ctx context.Context, runID, projectID, status string) error {
	if !storage.RunTerminal(status) {
		status = storage.RunCompleted
	}

	mu := t.runLock(runID)
	mu.Lock()

	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		mu.Unlock()
		return err
	}
	if storage.RunTerminal(run.Status) {
		mu.Unlock()
		return nil
	}

	if err := t.store.SetRunStatus(ctx, runID, status); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	if projectID == "" {
		projectID = run.ProjectID
	}
	if projectID != "" {
		if err := t.store.SetProjectStatus(ctx, projectID, storage.ProjectStopped); err != nil {
			t.log.Error("project stop after run finalize failed",
				logx.String("project_id", projectID), logx.Err(err))
		}
	}
	_ = t.store.AppendRunLog(ctx, runID, "info", "run finalized: "+status)

	t.forget(runID)

	t.log.Info("run finalized",
		logx.String("run_id", runID),
		logx.String("project_id", projectID),
		logx.String("status", status),
	)
	t.publish(eventbus.TypeRunFinalized, map[string]any{
		"run_id":     runID,
		"project_id": projectID,
		"status":     status,
	})
	return nil
}

// CheckAndUpdateProjectStatus re-reads a run's counters and, when they
// are already satisfied, finalizes the run as completed and stops its
// project. It reports whether this call finalized the run. Callers that
// lost a completion event (the sweeper, a stop path racing the last job)
// use this as their repair entry point.
func (t *Tracker) CheckAndUpdateProjectStatus(ctx context.Context, runID, projectID string) (bool, error) {
	stats, err := t.Stats(ctx, runID)
	if err != nil {
		return false, err
	}
	if !stats.Done() {
		return false, nil
	}
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if storage.RunTerminal(run.Status) {
		return false, nil
	}
	if err := t.FinalizeRun(ctx, runID, projectID, storage.RunCompleted); err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns the decoded counters for a run.
func (t *Tracker) Stats(ctx context.Context, runID string) (storage.RunStats, error) {
	raw, ok, err := t.store.GetRunStatsRaw(ctx, runID)
	if err != nil {
		return storage.RunStats{}, err
	}
	if !ok {
		return storage.RunStats{}, storage.ErrNotFound
	}
	stats, _ := storage.DecodeRunStats(raw)
	return stats, nil
}

func (t *Tracker) publish(typ string, data map[string]any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
