package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process maps, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Project status values.
const (
	ProjectStopped = "stopped"
	ProjectRunning = "running"
	ProjectPaused  = "paused"
	ProjectFailed  = "failed"
)

// Run status values.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunStopped   = "stopped"
)

// RunTerminal reports whether a run status is terminal.
func RunTerminal(status string) bool {
	switch status {
	case RunCompleted, RunFailed, RunStopped:
		return true
	}
	return false
}

type Project struct {
	ID          string
	Name        string
	Description string
	Status      string
	Owner       string
	ConfigJSON  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Run struct {
	ID        string
	ProjectID string
	Status    string
	StartedBy string
	StatsJSON string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Session struct {
	ID            string
	Name          string
	SessionString string
	Status        string
	LastUsedAt    time.Time
	CreatedAt     time.Time
}

type Channel struct {
	ID         string
	Username   string
	Title      string
	CategoryID string
	CreatedAt  time.Time
}

type Category struct {
	ID   string
	Name string
}

type File struct {
	ID        string
	Path      string
	Kind      string // "text", "photo", "video"
	CreatedAt time.Time
}

// Message type values for ProjectMessage.
const (
	MessageText  = "text"
	MessagePhoto = "photo"
	MessageVideo = "video"
)

type ProjectMessage struct {
	ID         string
	ProjectID  string
	Type       string
	ContentRef string // file id
	Caption    string
}

type RunLog struct {
	ID        int64
	RunID     string
	Level     string
	Message   string
	CreatedAt time.Time
}

// PendingJob is a queue job persisted until its terminal outcome.
// Payload is the queue's own JSON encoding; storage does not interpret it.
type PendingJob struct {
	ID           string
	RunID        string
	ProjectID    string
	Payload      string
	VisibleAfter time.Time
	CreatedAt    time.Time
}

// HealthCounts is the sweeper's periodic health summary.
type HealthCounts struct {
	RunningProjects int
	RunningRuns     int
}
