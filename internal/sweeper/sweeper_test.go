package sweeper

import (
	"context"
	"strings"
	"testing"
	"time"

	"blastd/internal/lifecycle"
	"blastd/internal/storage"
	"blastd/pkg/logx"
)

func newSweeper(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	tracker := lifecycle.New(store, logx.Nop(), nil)
	return New(Config{Enabled: true}, store, tracker, logx.Nop()), store
}

func seedRunningRun(t *testing.T, store storage.Store, projectID, runID string, age time.Duration, stats storage.RunStats) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateProject(ctx, storage.Project{ID: projectID, Name: projectID, Status: storage.ProjectRunning}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.CreateRun(ctx, storage.Run{
		ID: runID, ProjectID: projectID, Status: storage.RunRunning,
		CreatedAt: time.Now().Add(-age),
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.SetRunStats(ctx, runID, stats); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func TestStuckPassCompletesSatisfiedRun(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Hour, storage.RunStats{
		TotalJobs: 3, CompletedJobs: 3, SuccessCount: 3,
	})

	s.runStuckPass(ctx)

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != storage.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunCompleted)
	}
	proj, _ := store.GetProject(ctx, "proj-1")
	if proj.Status != storage.ProjectStopped {
		t.Fatalf("project status = %q, want %q", proj.Status, storage.ProjectStopped)
	}
}

func TestStuckPassFailsRunWithNoQueuedWork(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Hour, storage.RunStats{
		TotalJobs: 5, CompletedJobs: 2, SuccessCount: 2,
	})

	s.runStuckPass(ctx)

	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != storage.RunFailed {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunFailed)
	}
}

func TestStuckPassFlagsZeroProgressRun(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Hour, storage.RunStats{
		TotalJobs: 5,
	})

	s.runStuckPass(ctx)

	// No job ever completed and nothing is queued: not safe to
	// auto-resolve, so the run stays running and gets flagged.
	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != storage.RunRunning {
		t.Fatalf("run status = %q, want still running", run.Status)
	}
	logs, err := store.ListRunLogs(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, l := range logs {
		if strings.Contains(l.Message, "investigation") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no investigation log entry, got %+v", logs)
	}
}

func TestStuckPassLeavesRunWithQueuedWork(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Hour, storage.RunStats{
		TotalJobs: 5, CompletedJobs: 2, SuccessCount: 2,
	})
	if err := store.PutPendingJob(ctx, storage.PendingJob{
		ID: "job-1", RunID: "run-1", ProjectID: "proj-1",
		Payload: "{}", VisibleAfter: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("put pending: %v", err)
	}

	s.runStuckPass(ctx)

	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != storage.RunRunning {
		t.Fatalf("run status = %q, want still running", run.Status)
	}
}

func TestStuckPassIgnoresFreshRuns(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Minute, storage.RunStats{
		TotalJobs: 5, CompletedJobs: 5, SuccessCount: 5,
	})

	s.runStuckPass(ctx)

	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != storage.RunRunning {
		t.Fatalf("fresh run was touched: status = %q", run.Status)
	}
}

func TestStuckPassStopsOrphanProjects(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	if err := store.CreateProject(ctx, storage.Project{ID: "proj-1", Name: "orphan", Status: storage.ProjectRunning}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	s.runStuckPass(ctx)

	proj, _ := store.GetProject(ctx, "proj-1")
	if proj.Status != storage.ProjectStopped {
		t.Fatalf("orphan project status = %q, want %q", proj.Status, storage.ProjectStopped)
	}
}

func TestHealthPass(t *testing.T) {
	t.Parallel()

	s, store := newSweeper(t)
	ctx := context.Background()
	seedRunningRun(t, store, "proj-1", "run-1", time.Minute, storage.RunStats{TotalJobs: 1})

	// Must not panic or error with live rows present.
	s.runHealthPass(ctx)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, _ := newSweeper(t)
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
}
