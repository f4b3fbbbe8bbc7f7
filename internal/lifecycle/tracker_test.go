package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"blastd/internal/storage"
	"blastd/pkg/logx"
)

func newTestTracker(t *testing.T) (*Tracker, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	return New(store, logx.Nop(), nil), store
}

func seedRun(t *testing.T, store storage.Store, projectID, runID string, total int) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateProject(ctx, storage.Project{ID: projectID, Name: projectID, Status: storage.ProjectRunning}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.CreateRun(ctx, storage.Run{ID: runID, ProjectID: projectID, Status: storage.RunRunning}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.SetRunStats(ctx, runID, storage.RunStats{TotalJobs: total}); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func TestCompleteJobConcurrentNoLostUpdates(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	const total = 64
	seedRun(t, store, "proj-1", "run-1", total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			success := i%4 != 0
			if err := tr.CompleteJob(ctx, "run-1", "proj-1", fmt.Sprintf("job-%d", i), success); err != nil {
				t.Errorf("complete job %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := tr.Stats(ctx, "run-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CompletedJobs != total {
		t.Fatalf("completed = %d, want %d", stats.CompletedJobs, total)
	}
	if stats.SuccessCount+stats.ErrorCount != total {
		t.Fatalf("success+error = %d, want %d", stats.SuccessCount+stats.ErrorCount, total)
	}
	if stats.ErrorCount != total/4 {
		t.Fatalf("errors = %d, want %d", stats.ErrorCount, total/4)
	}
}

func TestAutoCompleteOnLastJob(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 3)

	for i := 0; i < 2; i++ {
		if err := tr.CompleteJob(ctx, "run-1", "proj-1", fmt.Sprintf("job-%d", i), true); err != nil {
			t.Fatalf("complete job %d: %v", i, err)
		}
		run, err := store.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if storage.RunTerminal(run.Status) {
			t.Fatalf("run finalized early after %d jobs", i+1)
		}
	}

	if err := tr.CompleteJob(ctx, "run-1", "proj-1", "job-2", false); err != nil {
		t.Fatalf("final job: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != storage.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunCompleted)
	}
	proj, err := store.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if proj.Status != storage.ProjectStopped {
		t.Fatalf("project status = %q, want %q", proj.Status, storage.ProjectStopped)
	}
}

func TestFinalizeRunIdempotent(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 1)

	if err := tr.FinalizeRun(ctx, "run-1", "proj-1", storage.RunStopped); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// A second finalize with a different status must not change anything.
	if err := tr.FinalizeRun(ctx, "run-1", "proj-1", storage.RunFailed); err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != storage.RunStopped {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunStopped)
	}
}

func TestFinalizeConcurrentSingleTransition(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.FinalizeRun(ctx, "run-1", "proj-1", storage.RunCompleted); err != nil {
				t.Errorf("finalize: %v", err)
			}
		}()
	}
	wg.Wait()

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != storage.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunCompleted)
	}
}

func TestCompleteJobRepairsCorruptStats(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 5)

	if err := store.SetRunStatsRaw(ctx, "run-1", "{not json"); err != nil {
		t.Fatalf("corrupt stats: %v", err)
	}

	if err := tr.CompleteJob(ctx, "run-1", "proj-1", "job-0", true); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	stats, err := tr.Stats(ctx, "run-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// The corrupt blob resets to a zero baseline plus this completion.
	if stats.CompletedJobs != 1 || stats.SuccessCount != 1 || stats.ErrorCount != 0 {
		t.Fatalf("unexpected repaired stats: %+v", stats)
	}
	if stats.TotalJobs != 0 {
		t.Fatalf("repaired total = %d, want 0", stats.TotalJobs)
	}
}

func TestCompleteJobUnknownRunTolerated(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t)
	if err := tr.CompleteJob(context.Background(), "missing", "proj-1", "job-0", true); err != nil {
		t.Fatalf("unknown run should be tolerated, got %v", err)
	}
}

func TestZeroTotalCompletesOnFirstJob(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 0)

	if err := tr.CompleteJob(ctx, "run-1", "proj-1", "job-0", true); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != storage.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunCompleted)
	}
}

func TestCheckAndUpdateProjectStatus(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 2)

	// Counters not satisfied: nothing happens.
	done, err := tr.CheckAndUpdateProjectStatus(ctx, "run-1", "proj-1")
	if err != nil || done {
		t.Fatalf("check = (%v, %v), want (false, nil)", done, err)
	}

	if err := store.SetRunStats(ctx, "run-1", storage.RunStats{
		TotalJobs: 2, CompletedJobs: 2, SuccessCount: 1, ErrorCount: 1,
	}); err != nil {
		t.Fatalf("set stats: %v", err)
	}

	done, err = tr.CheckAndUpdateProjectStatus(ctx, "run-1", "proj-1")
	if err != nil || !done {
		t.Fatalf("check = (%v, %v), want (true, nil)", done, err)
	}
	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != storage.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, storage.RunCompleted)
	}
	proj, _ := store.GetProject(ctx, "proj-1")
	if proj.Status != storage.ProjectStopped {
		t.Fatalf("project status = %q, want %q", proj.Status, storage.ProjectStopped)
	}

	// Second call sees a terminal run and reports nothing to do.
	done, err = tr.CheckAndUpdateProjectStatus(ctx, "run-1", "proj-1")
	if err != nil || done {
		t.Fatalf("repeat check = (%v, %v), want (false, nil)", done, err)
	}

	if _, err := tr.CheckAndUpdateProjectStatus(ctx, "run-missing", "proj-1"); err == nil {
		t.Fatal("missing run: want error")
	}
}

func TestSetTotalJobs(t *testing.T) {
	t.Parallel()

	tr, store := newTestTracker(t)
	ctx := context.Background()
	seedRun(t, store, "proj-1", "run-1", 0)

	if err := tr.SetTotalJobs(ctx, "run-1", 7); err != nil {
		t.Fatalf("set total: %v", err)
	}
	stats, err := tr.Stats(ctx, "run-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalJobs != 7 {
		t.Fatalf("total = %d, want 7", stats.TotalJobs)
	}
}
