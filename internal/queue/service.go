// Package queue executes delivery jobs on a bounded worker pool.
//
// Jobs are persisted until their terminal outcome, so a restart re-schedules
// everything that never finished. Delayed jobs (the per-channel stagger) sit
// on timers and only enter the worker channel once due.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"blastd/internal/eventbus"
	rtsup "blastd/internal/runtime/supervisor"
	"blastd/internal/sender"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store    storage.Store
	locker   SessionLocker
	send     sender.Sender
	complete Completer

	q chan Job

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	timerMu sync.Mutex
	timers  map[string]*time.Timer // job id -> release timer
	byProj  map[string]map[string]struct{}
	tracked map[string]struct{} // job ids scheduled or in flight

	dropped             uint64
	lastQueueFullWarnAt int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, locker SessionLocker, send sender.Sender, complete Completer) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("component", "queue")),
		bus:      bus,
		store:    store,
		locker:   locker,
		send:     send,
		complete: complete,
		timers:   make(map[string]*time.Timer),
		byProj:   make(map[string]map[string]struct{}),
		tracked:  make(map[string]struct{}),
	}
}

// Supervisor returns the queue's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan Job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	q := s.q

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Worker failures should not hard-kill the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, q, idx)
			// Clean exits happen only on shutdown.
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	// Re-schedule whatever never reached a terminal outcome before the last
	// shutdown.
	sup.Go0("reload", func(c context.Context) {
		s.reload(c)
	})

	s.log.Info("queue started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(q)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	// Stop release timers; the pending rows survive for the next Start.
	s.timerMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.byProj = make(map[string]map[string]struct{})
	s.tracked = make(map[string]struct{})
	s.timerMu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("queue stopped")
	case <-ctx.Done():
		s.log.Warn("queue stop timed out", logx.Err(ctx.Err()))
	}
}

// Submit persists the job and hands it to the workers after delay. The
// pending row is written before scheduling so a crash between the two
// re-creates the timer on restart instead of losing the job.
func (s *Service) Submit(ctx context.Context, job Job, delay time.Duration) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job ID is required")
	}
	if strings.TrimSpace(job.RunID) == "" {
		return fmt.Errorf("job RunID is required")
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.store.PutPendingJob(ctx, storage.PendingJob{
		ID:           job.ID,
		RunID:        job.RunID,
		ProjectID:    job.ProjectID,
		Payload:      payload,
		VisibleAfter: time.Now().Add(delay),
	}); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}

	// The reload pass may have listed this row already; whoever wins the
	// tracked set schedules, the other skips. Without this a job persisted
	// between Start and the reload's ListPendingJobs would run twice.
	if s.track(job.ID) {
		s.schedule(job, delay)
	}
	return nil
}

// CancelProject drops every not-yet-executed job for the project and
// returns how many were removed. Jobs already inside a worker finish
// normally.
func (s *Service) CancelProject(ctx context.Context, projectID string) (int, error) {
	s.timerMu.Lock()
	for id := range s.byProj[projectID] {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
		delete(s.tracked, id)
	}
	delete(s.byProj, projectID)
	s.timerMu.Unlock()

	n, err := s.store.DeletePendingJobsByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("cancelled queued jobs", logx.String("project_id", projectID), logx.Int("count", n))
		s.publish(eventbus.TypeJobDropped, JobEvent{ProjectID: projectID, Error: "cancelled"})
	}
	return n, nil
}

// track claims a job id for scheduling. It reports false when the id is
// already scheduled or in flight, in which case the caller must not
// schedule another copy.
func (s *Service) track(id string) bool {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if _, ok := s.tracked[id]; ok {
		return false
	}
	s.tracked[id] = struct{}{}
	return true
}

func (s *Service) untrack(id string) {
	s.timerMu.Lock()
	delete(s.tracked, id)
	s.timerMu.Unlock()
}

func (s *Service) schedule(job Job, delay time.Duration) {
	if delay <= 0 {
		s.release(job)
		return
	}

	s.timerMu.Lock()
	t := time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, job.ID)
		if set, ok := s.byProj[job.ProjectID]; ok {
			delete(set, job.ID)
			if len(set) == 0 {
				delete(s.byProj, job.ProjectID)
			}
		}
		s.timerMu.Unlock()
		s.release(job)
	})
	s.timers[job.ID] = t
	set := s.byProj[job.ProjectID]
	if set == nil {
		set = make(map[string]struct{})
		s.byProj[job.ProjectID] = set
	}
	set[job.ID] = struct{}{}
	s.timerMu.Unlock()
}

// release moves a due job into the worker channel. A full channel re-arms
// a short timer instead of blocking the caller.
func (s *Service) release(job Job) {
	s.mu.Lock()
	q := s.q
	stopCh := s.stopCh
	s.mu.Unlock()
	if q == nil || stopCh == nil {
		return
	}

	select {
	case <-stopCh:
		return
	case q <- job:
	default:
		now := time.Now()
		if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
			s.log.Warn("queue full, delaying release",
				logx.String("job_id", job.ID),
				logx.Int("queue_len", len(q)),
				logx.Int("queue_cap", cap(q)),
			)
		}
		s.schedule(job, time.Second)
	}
}

func (s *Service) reload(ctx context.Context) {
	pending, err := s.store.ListPendingJobs(ctx)
	if err != nil {
		s.log.Error("reload pending jobs failed", logx.Err(err))
		return
	}
	now := time.Now()
	restored := 0
	for _, row := range pending {
		job, err := decodeJob(row.Payload)
		if err != nil {
			s.log.Warn("dropping undecodable pending job",
				logx.String("job_id", row.ID), logx.Err(err))
			_ = s.store.DeletePendingJob(ctx, row.ID)
			atomic.AddUint64(&s.dropped, 1)
			continue
		}
		if !s.track(job.ID) {
			continue
		}
		s.schedule(job, row.VisibleAfter.Sub(now))
		restored++
	}
	if restored > 0 {
		s.log.Info("restored pending jobs", logx.Int("count", restored))
	}
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}
