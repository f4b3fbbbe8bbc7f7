package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "blastd/pkg/logx"
)

// Store is the persistence API consumed by the dispatch core and the admin API.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	UpdateProject(ctx context.Context, p Project) error
	DeleteProject(ctx context.Context, id string) error
	SetProjectStatus(ctx context.Context, id, status string) error

	// Runs (the run ledger)
	CreateRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	FindActiveRun(ctx context.Context, projectID string) (Run, bool, error)
	SetRunStatus(ctx context.Context, id, status string) error
	GetRunStatsRaw(ctx context.Context, runID string) (string, bool, error)
	SetRunStats(ctx context.Context, runID string, stats RunStats) error
	SetRunStatsRaw(ctx context.Context, runID, raw string) error
	ListStaleRunningRuns(ctx context.Context, olderThan time.Time) ([]Run, error)
	ListRunningProjectsWithoutRun(ctx context.Context) ([]Project, error)
	CountRunning(ctx context.Context) (HealthCounts, error)

	// Run logs
	AppendRunLog(ctx context.Context, runID, level, message string) error
	ListRunLogs(ctx context.Context, runID string, limit int) ([]RunLog, error)

	// Sessions
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string, at time.Time) error

	// Channels / categories
	CreateChannel(ctx context.Context, c Channel) error
	ListChannels(ctx context.Context) ([]Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	CreateCategory(ctx context.Context, c Category) error
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id string) error

	// Files
	CreateFile(ctx context.Context, f File) error
	GetFile(ctx context.Context, id string) (File, error)

	// Project wiring
	SetProjectChannels(ctx context.Context, projectID string, channelIDs []string) error
	ListProjectChannels(ctx context.Context, projectID string) ([]Channel, error)
	SetProjectSessions(ctx context.Context, projectID string, sessionIDs []string) error
	ListProjectSessions(ctx context.Context, projectID string) ([]Session, error)
	CreateProjectMessage(ctx context.Context, m ProjectMessage) error
	ListProjectMessages(ctx context.Context, projectID string) ([]ProjectMessage, error)
	DeleteProjectMessage(ctx context.Context, id string) error
	SetDelay(ctx context.Context, projectID string, betweenChannels time.Duration) error
	GetDelay(ctx context.Context, projectID string) (time.Duration, bool, error)

	// Pending jobs (queue durability)
	PutPendingJob(ctx context.Context, j PendingJob) error
	GetPendingJob(ctx context.Context, id string) (PendingJob, bool, error)
	DeletePendingJob(ctx context.Context, id string) error
	DeletePendingJobsByProject(ctx context.Context, projectID string) (int, error)
	ListPendingJobs(ctx context.Context) ([]PendingJob, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
