// Package dispatch turns a configured project into a run: it fans the
// project's messages out across its channels, staggers the jobs, and
// hands them to the queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"blastd/internal/lifecycle"
	"blastd/internal/queue"
	"blastd/internal/sender"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

// DefaultChannelDelay staggers consecutive channels when a project has no
// explicit delay configured.
const DefaultChannelDelay = 30 * time.Second

var (
	ErrRunActive            = errors.New("project already has an active run")
	ErrNoActiveRun          = errors.New("project has no active run")
	ErrMissingConfiguration = errors.New("project has no sessions or messages configured")
	ErrNoDeliverableTargets = errors.New("project has no channels to deliver to")
)

// JobQueue is the slice of the queue the dispatcher needs.
type JobQueue interface {
	Submit(ctx context.Context, job queue.Job, delay time.Duration) error
	CancelProject(ctx context.Context, projectID string) (int, error)
}

// RunControl is the slice of the lifecycle tracker the dispatcher needs.
type RunControl interface {
	SetTotalJobs(ctx context.Context, runID string, total int) error
	CompleteJob(ctx context.Context, runID, projectID, jobID string, success bool) error
	FinalizeRun(ctx context.Context, runID, projectID, status string) error
	Stats(ctx context.Context, runID string) (storage.RunStats, error)
}

type Service struct {
	store   storage.Store
	queue   JobQueue
	tracker RunControl
	log     logx.Logger

	// readFile is swappable in tests.
	readFile func(path string) (string, error)
}

func New(store storage.Store, q JobQueue, tracker RunControl, log logx.Logger) *Service {
	return &Service{
		store:   store,
		queue:   q,
		tracker: tracker,
		log:     log.With(logx.String("component", "dispatch")),
		readFile: func(path string) (string, error) {
			b, err := os.ReadFile(path)
			return string(b), err
		},
	}
}

var _ RunControl = (*lifecycle.Tracker)(nil)

// LaunchRun starts a run for the project and returns the run id and the
// number of jobs created. Job totals are persisted before the first job
// is handed to the queue, so auto-completion can never fire against a
// half-written total.
func (s *Service) LaunchRun(ctx context.Context, projectID, startedBy string) (string, int, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", 0, err
	}

	if _, active, err := s.store.FindActiveRun(ctx, projectID); err != nil {
		return "", 0, err
	} else if active {
		return "", 0, ErrRunActive
	}

	channels, err := s.store.ListProjectChannels(ctx, projectID)
	if err != nil {
		return "", 0, err
	}
	sessions, err := s.store.ListProjectSessions(ctx, projectID)
	if err != nil {
		return "", 0, err
	}
	messages, err := s.store.ListProjectMessages(ctx, projectID)
	if err != nil {
		return "", 0, err
	}

	// No channels at all is a configuration gap, same as missing sessions
	// or messages. NoDeliverableTargets is reserved for configured
	// channels that all turned out unaddressable.
	if len(channels) == 0 || len(sessions) == 0 || len(messages) == 0 {
		return "", 0, ErrMissingConfiguration
	}

	deliverable := make([]storage.Channel, 0, len(channels))
	for _, ch := range channels {
		if strings.TrimSpace(ch.Username) == "" {
			s.log.Warn("channel has no deliverable address, skipping",
				logx.String("project_id", projectID),
				logx.String("channel_id", ch.ID),
				logx.String("title", ch.Title))
			continue
		}
		deliverable = append(deliverable, ch)
	}
	if len(deliverable) == 0 {
		return "", 0, ErrNoDeliverableTargets
	}
	channels = deliverable

	delay := s.channelDelay(ctx, projectID)

	runID := uuid.NewString()
	if err := s.store.CreateRun(ctx, storage.Run{
		ID:        runID,
		ProjectID: projectID,
		Status:    storage.RunRunning,
		StartedBy: startedBy,
	}); err != nil {
		return "", 0, err
	}
	if err := s.store.SetProjectStatus(ctx, projectID, storage.ProjectRunning); err != nil {
		return "", 0, err
	}

	jobs := s.buildJobs(ctx, runID, projectID, channels, sessions, messages)
	if err := s.tracker.SetTotalJobs(ctx, runID, len(jobs)); err != nil {
		return "", 0, err
	}

	_ = s.store.AppendRunLog(ctx, runID, "info",
		fmt.Sprintf("run started by %s: %d jobs across %d channels", startedBy, len(jobs), len(channels)))
	s.log.Info("run launched",
		logx.String("run_id", runID),
		logx.String("project_id", projectID),
		logx.String("project", project.Name),
		logx.Int("jobs", len(jobs)),
		logx.Duration("channel_delay", delay),
	)

	for _, j := range jobs {
		jobDelay := delay * time.Duration(j.Seq)
		if err := s.queue.Submit(ctx, j, jobDelay); err != nil {
			// A job that never made it into the queue still counts
			// toward the run, as a failure.
			s.log.Error("job submit failed",
				logx.String("run_id", runID), logx.String("job_id", j.ID), logx.Err(err))
			_ = s.store.AppendRunLog(ctx, runID, "error",
				fmt.Sprintf("submit to %s failed: %v", j.Channel, err))
			if cerr := s.tracker.CompleteJob(ctx, runID, projectID, j.ID, false); cerr != nil {
				s.log.Error("submit failure bookkeeping failed",
					logx.String("run_id", runID), logx.Err(cerr))
			}
		}
	}

	return runID, len(jobs), nil
}

// StopRun cancels the active run for a project: queued jobs are dropped,
// in-flight jobs finish, and the run flips to stopped.
func (s *Service) StopRun(ctx context.Context, projectID string) (int, error) {
	run, active, err := s.store.FindActiveRun(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrNoActiveRun
	}

	dropped, err := s.queue.CancelProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if err := s.tracker.FinalizeRun(ctx, run.ID, projectID, storage.RunStopped); err != nil {
		return dropped, err
	}
	_ = s.store.AppendRunLog(ctx, run.ID, "info",
		fmt.Sprintf("run stopped: %d queued jobs dropped", dropped))
	return dropped, nil
}

// Status describes the current run of a project.
type Status struct {
	Project storage.Project  `json:"project"`
	Run     *storage.Run     `json:"run,omitempty"`
	Stats   storage.RunStats `json:"stats"`
}

func (s *Service) RunStatus(ctx context.Context, projectID string) (Status, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Status{}, err
	}
	st := Status{Project: project}

	run, active, err := s.store.FindActiveRun(ctx, projectID)
	if err != nil {
		return Status{}, err
	}
	if !active {
		return st, nil
	}
	st.Run = &run
	stats, err := s.tracker.Stats(ctx, run.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Status{}, err
	}
	st.Stats = stats
	return st, nil
}

func (s *Service) channelDelay(ctx context.Context, projectID string) time.Duration {
	d, ok, err := s.store.GetDelay(ctx, projectID)
	if err != nil {
		s.log.Warn("delay lookup failed, using default",
			logx.String("project_id", projectID), logx.Err(err))
		return DefaultChannelDelay
	}
	if !ok || d < 0 {
		return DefaultChannelDelay
	}
	return d
}

// buildJobs pairs every channel with every message. Sessions rotate
// across channels so a multi-session project spreads its load. Seq is
// the job's position in the batch; every job gets its own stagger slot.
func (s *Service) buildJobs(ctx context.Context, runID, projectID string, channels []storage.Channel, sessions []storage.Session, messages []storage.ProjectMessage) []queue.Job {
	jobs := make([]queue.Job, 0, len(channels)*len(messages))
	for i, ch := range channels {
		sess := sessions[i%len(sessions)]
		target := ch.Username
		if !strings.HasPrefix(target, "@") && !isNumeric(target) {
			target = "@" + target
		}
		for _, msg := range messages {
			jobs = append(jobs, queue.Job{
				ID:            uuid.NewString(),
				RunID:         runID,
				ProjectID:     projectID,
				SessionID:     sess.ID,
				SessionString: sess.SessionString,
				Channel:       target,
				Message:       s.resolveMessage(ctx, msg),
				Seq:           len(jobs),
			})
		}
	}
	return jobs
}

// resolveMessage materializes a project message into a sendable payload.
// Text messages read their body from the referenced file; media messages
// reference the file on disk and carry the caption along.
func (s *Service) resolveMessage(ctx context.Context, msg storage.ProjectMessage) sender.Message {
	out := sender.Message{Type: msg.Type, Body: msg.Caption}
	if msg.ContentRef == "" {
		return out
	}
	file, err := s.store.GetFile(ctx, msg.ContentRef)
	if err != nil {
		s.log.Warn("message file lookup failed",
			logx.String("file_id", msg.ContentRef), logx.Err(err))
		return out
	}
	switch msg.Type {
	case storage.MessageText, "":
		body, err := s.readFile(file.Path)
		if err != nil {
			s.log.Warn("message file read failed",
				logx.String("path", file.Path), logx.Err(err))
			return out
		}
		out.Type = sender.TypeText
		out.Body = strings.TrimRight(body, "\n")
	default:
		out.Media = file.Path
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
