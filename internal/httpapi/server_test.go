package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blastd/internal/dispatch"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

type fakeDispatcher struct {
	launchErr error
	stopErr   error
	runID     string
	jobs      int
	dropped   int
	status    dispatch.Status
	statusErr error
}

func (f *fakeDispatcher) LaunchRun(_ context.Context, _, _ string) (string, int, error) {
	if f.launchErr != nil {
		return "", 0, f.launchErr
	}
	return f.runID, f.jobs, nil
}

func (f *fakeDispatcher) StopRun(_ context.Context, _ string) (int, error) {
	if f.stopErr != nil {
		return 0, f.stopErr
	}
	return f.dropped, nil
}

func (f *fakeDispatcher) RunStatus(_ context.Context, _ string) (dispatch.Status, error) {
	if f.statusErr != nil {
		return dispatch.Status{}, f.statusErr
	}
	return f.status, nil
}

func newTestServer(t *testing.T, disp Dispatcher) (*Server, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })
	if disp == nil {
		disp = &fakeDispatcher{}
	}
	return New(Config{}, store, disp, logx.Nop()), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return env.Data
}

func TestProjectCRUD(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects", `{"name":"launch-wave","owner":"ops"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeData[projectResponse](t, rec)
	if created.ID == "" || created.Status != storage.ProjectStopped {
		t.Fatalf("unexpected created project: %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/projects/"+created.ID, `{"name":"renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: got %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeData[projectResponse](t, rec); got.Name != "renamed" {
		t.Fatalf("update name: got %q", got.Name)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects", "")
	if got := decodeData[[]projectResponse](t, rec); len(got) != 1 {
		t.Fatalf("list: got %d projects", len(got))
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/projects/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", rec.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects", `{"name":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Code != "validation_error" {
		t.Fatalf("unexpected error payload: %+v", env.Error)
	}
}

func TestLaunchRun(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{runID: "run-1", jobs: 12}
	s, _ := newTestServer(t, disp)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects/p1/run", `{"started_by":"cli"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeData[launchResponse](t, rec)
	if got.RunID != "run-1" || got.Jobs != 12 {
		t.Fatalf("unexpected launch response: %+v", got)
	}
}

func TestLaunchRunConflict(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{launchErr: dispatch.ErrRunActive}
	s, _ := newTestServer(t, disp)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects/p1/run", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rec.Code)
	}
}

func TestLaunchRunMissingConfiguration(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{launchErr: dispatch.ErrMissingConfiguration}
	s, _ := newTestServer(t, disp)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects/p1/run", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestStopRun(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{dropped: 3}
	s, _ := newTestServer(t, disp)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects/p1/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if got := decodeData[stopResponse](t, rec); got.DroppedJobs != 3 {
		t.Fatalf("dropped: got %d", got.DroppedJobs)
	}

	disp.stopErr = dispatch.ErrNoActiveRun
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/projects/p1/stop", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("stop without run: got %d, want 409", rec.Code)
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{status: dispatch.Status{
		Project: storage.Project{ID: "p1", Name: "wave", Status: storage.ProjectRunning},
		Run:     &storage.Run{ID: "run-1", Status: storage.RunRunning},
		Stats:   storage.RunStats{TotalJobs: 10, CompletedJobs: 4, SuccessCount: 3, ErrorCount: 1},
	}}
	s, _ := newTestServer(t, disp)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/projects/p1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	got := decodeData[runStatusResponse](t, rec)
	if got.Run == nil || got.Run.ID != "run-1" {
		t.Fatalf("run missing from status: %+v", got)
	}
	if got.Stats.CompletedJobs != 4 || got.Stats.ErrorCount != 1 {
		t.Fatalf("stats: %+v", got.Stats)
	}
}

func TestProjectWiring(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t, nil)
	h := s.Handler()
	ctx := context.Background()

	if err := store.CreateProject(ctx, storage.Project{ID: "p1", Name: "wave", Status: storage.ProjectStopped}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateChannel(ctx, storage.Channel{ID: "c1", Username: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSession(ctx, storage.Session{ID: "s1", Name: "acct", SessionString: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateFile(ctx, storage.File{ID: "f1", Path: "/tmp/msg.txt", Kind: "text"}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPut, "/api/v1/projects/p1/channels", `{"ids":["c1"]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set channels: %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects/p1/channels", "")
	if got := decodeData[[]channelResponse](t, rec); len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("list channels: %+v", got)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/projects/p1/sessions", `{"ids":["s1"]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set sessions: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/projects/p1/messages",
		`{"type":"text","content_ref":"f1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create message: %d, body %s", rec.Code, rec.Body.String())
	}
	msg := decodeData[messageResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/projects/p1/messages",
		`{"type":"photo","content_ref":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("message with missing file: %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/projects/p1/delay", `{"between_channels_ms":1500}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set delay: %d", rec.Code)
	}
	d, ok, err := store.GetDelay(ctx, "p1")
	if err != nil || !ok || d != 1500*time.Millisecond {
		t.Fatalf("delay: %v %v %v", d, ok, err)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/messages/"+msg.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete message: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/projects/missing/channels", `{"ids":["c1"]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wiring unknown project: %d, want 404", rec.Code)
	}
}

func TestSessionResponseOmitsSessionString(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions",
		`{"name":"acct","session_string":"super-secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Fatal("session string leaked in response")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sessions", "")
	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Fatal("session string leaked in list response")
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t, nil)
	ctx := context.Background()

	if err := store.CreateRun(ctx, storage.Run{ID: "run-1", ProjectID: "p1", Status: storage.RunRunning}); err != nil {
		t.Fatal(err)
	}
	want := storage.RunStats{TotalJobs: 5, CompletedJobs: 2, SuccessCount: 2}
	if err := store.SetRunStats(ctx, "run-1", want); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/runs/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	got := decodeData[runDetailResponse](t, rec)
	if got.Run.Status != storage.RunRunning || got.Stats != want {
		t.Fatalf("detail: %+v", got)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run: got %d, want 404", rec.Code)
	}
}

func TestRunLogs(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t, nil)
	ctx := context.Background()

	if err := store.CreateRun(ctx, storage.Run{ID: "run-1", ProjectID: "p1"}); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"run started", "job ok", "job failed"} {
		if err := store.AppendRunLog(ctx, "run-1", "info", msg); err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/runs/run-1/logs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if got := decodeData[[]runLogResponse](t, rec); len(got) != 3 {
		t.Fatalf("logs: got %d entries", len(got))
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/runs/run-1/logs?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0: got %d, want 400", rec.Code)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/runs/missing/logs", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run: got %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t, nil)
	ctx := context.Background()

	if err := store.CreateProject(ctx, storage.Project{ID: "p1", Name: "wave", Status: storage.ProjectRunning}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateRun(ctx, storage.Run{ID: "run-1", ProjectID: "p1", Status: storage.RunRunning}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	got := decodeData[healthResponse](t, rec)
	if got.Status != "ok" || got.RunningProjects != 1 || got.RunningRuns != 1 {
		t.Fatalf("health: %+v", got)
	}
}
