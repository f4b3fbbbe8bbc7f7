package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore keeps everything in process memory. Used by tests and by
// deployments that don't care about durability.
type memStore struct {
	mu sync.RWMutex

	projects map[string]Project
	runs     map[string]Run
	runLogs  map[string][]RunLog
	logSeq   int64

	sessions   map[string]Session
	channels   map[string]Channel
	categories map[string]Category
	files      map[string]File

	projectChannels map[string][]string
	projectSessions map[string][]string
	messages        map[string]ProjectMessage
	delays          map[string]time.Duration

	pending map[string]PendingJob
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		projects:        map[string]Project{},
		runs:            map[string]Run{},
		runLogs:         map[string][]RunLog{},
		sessions:        map[string]Session{},
		channels:        map[string]Channel{},
		categories:      map[string]Category{},
		files:           map[string]File{},
		projectChannels: map[string][]string{},
		projectSessions: map[string][]string{},
		messages:        map[string]ProjectMessage{},
		delays:          map[string]time.Duration{},
		pending:         map[string]PendingJob{},
	}
}

func (m *memStore) Close() error { return nil }

// ---- Projects ----

func (m *memStore) CreateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if p.Status == "" {
		p.Status = ProjectStopped
	}
	if p.ConfigJSON == "" {
		p.ConfigJSON = "{}"
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	m.projects[p.ID] = p
	return nil
}

func (m *memStore) GetProject(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListProjects(_ context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.projects[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Owner = p.Owner
	cur.ConfigJSON = p.ConfigJSON
	cur.UpdatedAt = time.Now()
	m.projects[p.ID] = cur
	return nil
}

func (m *memStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

func (m *memStore) SetProjectStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}

// ---- Runs ----

func (m *memStore) CreateRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if r.Status == "" {
		r.Status = RunQueued
	}
	if r.StatsJSON == "" {
		r.StatsJSON = RunStats{}.Encode()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.runs[r.ID] = r
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) FindActiveRun(_ context.Context, projectID string) (Run, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best Run
	found := false
	for _, r := range m.runs {
		if r.ProjectID != projectID || RunTerminal(r.Status) {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func (m *memStore) SetRunStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	m.runs[id] = r
	return nil
}

func (m *memStore) GetRunStatsRaw(_ context.Context, runID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return "", false, nil
	}
	return r.StatsJSON, true, nil
}

func (m *memStore) SetRunStats(ctx context.Context, runID string, stats RunStats) error {
	return m.SetRunStatsRaw(ctx, runID, stats.Encode())
}

func (m *memStore) SetRunStatsRaw(_ context.Context, runID, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	r.StatsJSON = raw
	r.UpdatedAt = time.Now()
	m.runs[runID] = r
	return nil
}

func (m *memStore) ListStaleRunningRuns(_ context.Context, olderThan time.Time) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for _, r := range m.runs {
		if r.Status != RunRunning {
			continue
		}
		p, ok := m.projects[r.ProjectID]
		if !ok || p.Status != ProjectRunning {
			continue
		}
		if r.CreatedAt.Before(olderThan) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListRunningProjectsWithoutRun(_ context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Project
	for _, p := range m.projects {
		if p.Status != ProjectRunning {
			continue
		}
		active := false
		for _, r := range m.runs {
			if r.ProjectID == p.ID && !RunTerminal(r.Status) {
				active = true
				break
			}
		}
		if !active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) CountRunning(_ context.Context) (HealthCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hc HealthCounts
	for _, p := range m.projects {
		if p.Status == ProjectRunning {
			hc.RunningProjects++
		}
	}
	for _, r := range m.runs {
		if r.Status == RunRunning {
			hc.RunningRuns++
		}
	}
	return hc, nil
}

// ---- Run logs ----

func (m *memStore) AppendRunLog(_ context.Context, runID, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logSeq++
	m.runLogs[runID] = append(m.runLogs[runID], RunLog{
		ID: m.logSeq, RunID: runID, Level: level, Message: message, CreatedAt: time.Now(),
	})
	return nil
}

func (m *memStore) ListRunLogs(_ context.Context, runID string, limit int) ([]RunLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.runLogs[runID]
	if limit <= 0 {
		limit = 100
	}
	out := make([]RunLog, 0, limit)
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

// ---- Sessions ----

func (m *memStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == "" {
		s.Status = "active"
	}
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastUsedAt = at
	m.sessions[id] = s
	return nil
}

// ---- Channels / categories ----

func (m *memStore) CreateChannel(_ context.Context, c Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	m.channels[c.ID] = c
	return nil
}

func (m *memStore) ListChannels(_ context.Context) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteChannel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	return nil
}

func (m *memStore) CreateCategory(_ context.Context, c Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

func (m *memStore) ListCategories(_ context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) DeleteCategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, id)
	return nil
}

// ---- Files ----

func (m *memStore) CreateFile(_ context.Context, f File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.CreatedAt = time.Now()
	m.files[f.ID] = f
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return File{}, ErrNotFound
	}
	return f, nil
}

// ---- Project wiring ----

func (m *memStore) SetProjectChannels(_ context.Context, projectID string, channelIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectChannels[projectID] = append([]string(nil), channelIDs...)
	return nil
}

func (m *memStore) ListProjectChannels(_ context.Context, projectID string) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Channel
	for _, id := range m.projectChannels[projectID] {
		if c, ok := m.channels[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) SetProjectSessions(_ context.Context, projectID string, sessionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectSessions[projectID] = append([]string(nil), sessionIDs...)
	return nil
}

func (m *memStore) ListProjectSessions(_ context.Context, projectID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, id := range m.projectSessions[projectID] {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) CreateProjectMessage(_ context.Context, msg ProjectMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Type == "" {
		msg.Type = MessageText
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *memStore) ListProjectMessages(_ context.Context, projectID string) ([]ProjectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ProjectMessage
	for _, msg := range m.messages {
		if msg.ProjectID == projectID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteProjectMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *memStore) SetDelay(_ context.Context, projectID string, betweenChannels time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[projectID] = betweenChannels
	return nil
}

func (m *memStore) GetDelay(_ context.Context, projectID string) (time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delays[projectID]
	return d, ok, nil
}

// ---- Pending jobs ----

func (m *memStore) PutPendingJob(_ context.Context, j PendingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	m.pending[j.ID] = j
	return nil
}

func (m *memStore) GetPendingJob(_ context.Context, id string) (PendingJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.pending[id]
	return j, ok, nil
}

func (m *memStore) DeletePendingJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *memStore) DeletePendingJobsByProject(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.pending {
		if j.ProjectID == projectID {
			delete(m.pending, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListPendingJobs(_ context.Context) ([]PendingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PendingJob, 0, len(m.pending))
	for _, j := range m.pending {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisibleAfter.Before(out[j].VisibleAfter) })
	return out, nil
}
