package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "blastd/pkg/logx"
)

// forEachDriver runs the test body against both store implementations.
func forEachDriver(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		store := NewMemory()
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		store, err := Open(Config{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "test.db"),
		}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestProjectCRUD(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		p := Project{ID: "p1", Name: "wave", Owner: "ops", Status: ProjectStopped}
		if err := store.CreateProject(ctx, p); err != nil {
			t.Fatal(err)
		}

		got, err := store.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "wave" || got.Owner != "ops" {
			t.Fatalf("got %+v", got)
		}

		got.Description = "first wave"
		if err := store.UpdateProject(ctx, got); err != nil {
			t.Fatal(err)
		}
		got, err = store.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Description != "first wave" {
			t.Fatalf("description not updated: %+v", got)
		}

		if err := store.SetProjectStatus(ctx, "p1", ProjectRunning); err != nil {
			t.Fatal(err)
		}
		got, _ = store.GetProject(ctx, "p1")
		if got.Status != ProjectRunning {
			t.Fatalf("status: %q", got.Status)
		}

		list, err := store.ListProjects(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Fatalf("list: %d", len(list))
		}

		if err := store.DeleteProject(ctx, "p1"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetProject(ctx, "p1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
		if err := store.SetProjectStatus(ctx, "p1", ProjectStopped); !errors.Is(err, ErrNotFound) {
			t.Fatalf("status on missing project: got %v, want ErrNotFound", err)
		}
	})
}

func TestRunLedger(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateRun(ctx, Run{ID: "run-1", ProjectID: "p1"}); err != nil {
			t.Fatal(err)
		}

		got, err := store.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != RunQueued {
			t.Fatalf("default status: %q", got.Status)
		}
		stats, ok := DecodeRunStats(got.StatsJSON)
		if !ok || stats != (RunStats{}) {
			t.Fatalf("default stats: %q", got.StatsJSON)
		}

		run, active, err := store.FindActiveRun(ctx, "p1")
		if err != nil || !active || run.ID != "run-1" {
			t.Fatalf("active run: %+v %v %v", run, active, err)
		}

		if err := store.SetRunStatus(ctx, "run-1", RunCompleted); err != nil {
			t.Fatal(err)
		}
		if _, active, _ = store.FindActiveRun(ctx, "p1"); active {
			t.Fatal("completed run still reported active")
		}

		if err := store.SetRunStatus(ctx, "missing", RunFailed); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
}

func TestRunStatsRaw(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateRun(ctx, Run{ID: "run-1", ProjectID: "p1"}); err != nil {
			t.Fatal(err)
		}

		want := RunStats{TotalJobs: 10, CompletedJobs: 3, SuccessCount: 2, ErrorCount: 1}
		if err := store.SetRunStats(ctx, "run-1", want); err != nil {
			t.Fatal(err)
		}
		raw, ok, err := store.GetRunStatsRaw(ctx, "run-1")
		if err != nil || !ok {
			t.Fatalf("stats raw: %v %v", ok, err)
		}
		got, decoded := DecodeRunStats(raw)
		if !decoded || got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}

		// A corrupt blob survives round-trip so callers can repair it.
		if err := store.SetRunStatsRaw(ctx, "run-1", "{corrupt"); err != nil {
			t.Fatal(err)
		}
		raw, _, _ = store.GetRunStatsRaw(ctx, "run-1")
		if _, decoded := DecodeRunStats(raw); decoded {
			t.Fatal("corrupt blob decoded")
		}

		if _, ok, err := store.GetRunStatsRaw(ctx, "missing"); err != nil || ok {
			t.Fatalf("missing run: ok=%v err=%v", ok, err)
		}
	})
}

func TestStaleRunQueries(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		old := time.Now().Add(-time.Hour)

		if err := store.CreateProject(ctx, Project{ID: "p1", Name: "a", Status: ProjectRunning}); err != nil {
			t.Fatal(err)
		}
		if err := store.CreateRun(ctx, Run{ID: "run-old", ProjectID: "p1", Status: RunRunning, CreatedAt: old}); err != nil {
			t.Fatal(err)
		}
		// Fresh run on a second running project.
		if err := store.CreateProject(ctx, Project{ID: "p2", Name: "b", Status: ProjectRunning}); err != nil {
			t.Fatal(err)
		}
		if err := store.CreateRun(ctx, Run{ID: "run-new", ProjectID: "p2", Status: RunRunning}); err != nil {
			t.Fatal(err)
		}
		// Running project with no run at all.
		if err := store.CreateProject(ctx, Project{ID: "p3", Name: "c", Status: ProjectRunning}); err != nil {
			t.Fatal(err)
		}

		stale, err := store.ListStaleRunningRuns(ctx, time.Now().Add(-30*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if len(stale) != 1 || stale[0].ID != "run-old" {
			t.Fatalf("stale: %+v", stale)
		}

		orphans, err := store.ListRunningProjectsWithoutRun(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(orphans) != 1 || orphans[0].ID != "p3" {
			t.Fatalf("orphans: %+v", orphans)
		}

		counts, err := store.CountRunning(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if counts.RunningProjects != 3 || counts.RunningRuns != 2 {
			t.Fatalf("counts: %+v", counts)
		}
	})
}

func TestProjectWiring(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateProject(ctx, Project{ID: "p1", Name: "wave"}); err != nil {
			t.Fatal(err)
		}
		for _, ch := range []Channel{
			{ID: "c1", Username: "alpha"},
			{ID: "c2", Username: "beta"},
		} {
			if err := store.CreateChannel(ctx, ch); err != nil {
				t.Fatal(err)
			}
		}
		if err := store.CreateSession(ctx, Session{ID: "s1", Name: "acct", SessionString: "tok"}); err != nil {
			t.Fatal(err)
		}

		if err := store.SetProjectChannels(ctx, "p1", []string{"c1", "c2"}); err != nil {
			t.Fatal(err)
		}
		channels, err := store.ListProjectChannels(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if len(channels) != 2 {
			t.Fatalf("channels: %d", len(channels))
		}

		// Replacing the set drops the old links.
		if err := store.SetProjectChannels(ctx, "p1", []string{"c2"}); err != nil {
			t.Fatal(err)
		}
		channels, _ = store.ListProjectChannels(ctx, "p1")
		if len(channels) != 1 || channels[0].ID != "c2" {
			t.Fatalf("after replace: %+v", channels)
		}

		if err := store.SetProjectSessions(ctx, "p1", []string{"s1"}); err != nil {
			t.Fatal(err)
		}
		sessions, err := store.ListProjectSessions(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 1 || sessions[0].SessionString != "tok" {
			t.Fatalf("sessions: %+v", sessions)
		}

		if _, ok, err := store.GetDelay(ctx, "p1"); err != nil || ok {
			t.Fatalf("delay before set: ok=%v err=%v", ok, err)
		}
		if err := store.SetDelay(ctx, "p1", 42*time.Second); err != nil {
			t.Fatal(err)
		}
		d, ok, err := store.GetDelay(ctx, "p1")
		if err != nil || !ok || d != 42*time.Second {
			t.Fatalf("delay: %v %v %v", d, ok, err)
		}
		// Explicit zero is stored, not treated as unset.
		if err := store.SetDelay(ctx, "p1", 0); err != nil {
			t.Fatal(err)
		}
		d, ok, _ = store.GetDelay(ctx, "p1")
		if !ok || d != 0 {
			t.Fatalf("zero delay: %v %v", d, ok)
		}
	})
}

func TestProjectMessages(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateFile(ctx, File{ID: "f1", Path: "/tmp/a.txt", Kind: "text"}); err != nil {
			t.Fatal(err)
		}
		if err := store.CreateProjectMessage(ctx, ProjectMessage{
			ID: "m1", ProjectID: "p1", Type: MessageText, ContentRef: "f1",
		}); err != nil {
			t.Fatal(err)
		}
		if err := store.CreateProjectMessage(ctx, ProjectMessage{
			ID: "m2", ProjectID: "p1", Type: MessagePhoto, ContentRef: "f1", Caption: "pic",
		}); err != nil {
			t.Fatal(err)
		}

		msgs, err := store.ListProjectMessages(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 {
			t.Fatalf("messages: %d", len(msgs))
		}

		if err := store.DeleteProjectMessage(ctx, "m1"); err != nil {
			t.Fatal(err)
		}
		msgs, _ = store.ListProjectMessages(ctx, "p1")
		if len(msgs) != 1 || msgs[0].ID != "m2" {
			t.Fatalf("after delete: %+v", msgs)
		}

		f, err := store.GetFile(ctx, "f1")
		if err != nil || f.Kind != "text" {
			t.Fatalf("file: %+v %v", f, err)
		}
		if _, err := store.GetFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
}

func TestPendingJobs(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		visible := time.Now().Add(time.Minute)

		for _, id := range []string{"j1", "j2"} {
			if err := store.PutPendingJob(ctx, PendingJob{
				ID: id, RunID: "run-1", ProjectID: "p1",
				Payload: `{"id":"` + id + `"}`, VisibleAfter: visible,
			}); err != nil {
				t.Fatal(err)
			}
		}
		if err := store.PutPendingJob(ctx, PendingJob{
			ID: "j3", RunID: "run-2", ProjectID: "p2",
			Payload: `{"id":"j3"}`, VisibleAfter: visible,
		}); err != nil {
			t.Fatal(err)
		}

		j, ok, err := store.GetPendingJob(ctx, "j1")
		if err != nil || !ok {
			t.Fatalf("get: %v %v", ok, err)
		}
		if j.RunID != "run-1" || j.VisibleAfter.Unix() != visible.Unix() {
			t.Fatalf("row: %+v", j)
		}

		// Upsert replaces the row.
		if err := store.PutPendingJob(ctx, PendingJob{
			ID: "j1", RunID: "run-1", ProjectID: "p1",
			Payload: `{"id":"j1","seq":2}`, VisibleAfter: visible,
		}); err != nil {
			t.Fatal(err)
		}
		all, err := store.ListPendingJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Fatalf("list after upsert: %d", len(all))
		}

		n, err := store.DeletePendingJobsByProject(ctx, "p1")
		if err != nil || n != 2 {
			t.Fatalf("delete by project: %d %v", n, err)
		}
		if _, ok, _ := store.GetPendingJob(ctx, "j1"); ok {
			t.Fatal("row survived project delete")
		}

		if err := store.DeletePendingJob(ctx, "j3"); err != nil {
			t.Fatal(err)
		}
		all, _ = store.ListPendingJobs(ctx)
		if len(all) != 0 {
			t.Fatalf("rows remain: %d", len(all))
		}
	})
}

func TestRunLogsOrderAndLimit(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, msg := range []string{"first", "second", "third"} {
			if err := store.AppendRunLog(ctx, "run-1", "info", msg); err != nil {
				t.Fatal(err)
			}
		}

		logs, err := store.ListRunLogs(ctx, "run-1", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 2 {
			t.Fatalf("limit: %d", len(logs))
		}
		// Newest first.
		if logs[0].Message != "third" || logs[1].Message != "second" {
			t.Fatalf("order: %+v", logs)
		}
	})
}

func TestSessions(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if err := store.CreateSession(ctx, Session{ID: "s1", Name: "acct", SessionString: "tok"}); err != nil {
			t.Fatal(err)
		}

		got, err := store.GetSession(ctx, "s1")
		if err != nil || got.SessionString != "tok" {
			t.Fatalf("session: %+v %v", got, err)
		}

		at := time.Now()
		if err := store.TouchSession(ctx, "s1", at); err != nil {
			t.Fatal(err)
		}
		got, _ = store.GetSession(ctx, "s1")
		if got.LastUsedAt.Unix() != at.Unix() {
			t.Fatalf("last used: %v", got.LastUsedAt)
		}

		if err := store.DeleteSession(ctx, "s1"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
}
