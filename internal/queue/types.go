package queue

import (
	"context"
	"encoding/json"
	"time"

	"blastd/internal/sender"
)

// Config controls the delivery queue.
type Config struct {
	Workers   int
	QueueSize int

	// Attempts is the total number of tries per job, including the first.
	Attempts      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration

	// LockLease bounds how long one job may hold a session.
	LockLease time.Duration
	// LockRetryAfter is the suggested retry delay when a session is busy.
	LockRetryAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 60 * time.Second
	}
	if c.LockLease <= 0 {
		c.LockLease = 5 * time.Minute
	}
	if c.LockRetryAfter <= 0 {
		c.LockRetryAfter = 5 * time.Second
	}
	return c
}

// Job is one delivery: a message to one channel through one session.
type Job struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	ProjectID     string         `json:"project_id"`
	SessionID     string         `json:"session_id"`
	SessionString string         `json:"session_string"`
	Channel       string         `json:"channel"`
	Message       sender.Message `json:"message"`
	Seq           int            `json:"seq"`
}

func encodeJob(j Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJob(raw string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(raw), &j)
	return j, err
}

// JobEvent is emitted on the event bus for job lifecycle events.
type JobEvent struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	ProjectID string        `json:"project_id"`
	Channel   string        `json:"channel,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Completer receives exactly one terminal notification per executed job.
// All run bookkeeping (counters, auto-completion) hangs off this single hook.
type Completer interface {
	CompleteJob(ctx context.Context, runID, projectID, jobID string, success bool) error
}

// SessionLocker serializes session usage across workers.
type SessionLocker interface {
	Acquire(sessionID, token string, ttl time.Duration) bool
	Release(sessionID, token string) bool
}
