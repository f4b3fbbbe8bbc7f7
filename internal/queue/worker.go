package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"blastd/internal/eventbus"
	"blastd/internal/sender"
	logx "blastd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, q chan Job, idx int) {
	// Per-worker RNG: avoids global lock contention when many jobs retry
	// concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job, ok := <-q:
			if !ok {
				return
			}
			s.execOne(ctx, stopCh, job, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, job Job, rng *rand.Rand) {
	start := time.Now()
	defer s.untrack(job.ID)

	// A missing pending row means the project was stopped while this job
	// waited; drop it without touching run counters.
	if _, ok, err := s.store.GetPendingJob(ctx, job.ID); err == nil && !ok {
		s.log.Debug("job dropped: cancelled",
			logx.String("job_id", job.ID), logx.String("run_id", job.RunID))
		s.publish(eventbus.TypeJobDropped, JobEvent{
			ID: job.ID, RunID: job.RunID, ProjectID: job.ProjectID, Error: "cancelled",
		})
		return
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.log.Debug("job started",
		logx.String("job_id", job.ID),
		logx.String("run_id", job.RunID),
		logx.String("channel", job.Channel),
	)
	s.publish(eventbus.TypeJobStarted, JobEvent{
		ID: job.ID, RunID: job.RunID, ProjectID: job.ProjectID, Channel: job.Channel,
	})

	var err error
	attempts := 0
attemptLoop:
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		attempts = attempt
		err = s.attempt(ctx, cfg, job)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= cfg.Attempts {
			break
		}

		delay := backoffDelayWithHint(cfg, attempt, err, rng)
		if delay > 0 {
			s.log.Debug("job retry scheduled",
				logx.String("job_id", job.ID),
				logx.Int("attempt", attempt+1),
				logx.Duration("delay", delay),
				logx.Err(err),
			)
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-stopCh:
				if !tmr.Stop() {
					<-tmr.C
				}
				err = errors.New("queue stopped")
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	// On shutdown the job stays pending and re-runs after restart; only
	// genuine outcomes reach the completion hook.
	select {
	case <-stopCh:
		return
	default:
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	s.finish(job, err == nil, attempts, time.Since(start), err)
}

// attempt performs one delivery try: take the session, send, give it back.
func (s *Service) attempt(ctx context.Context, cfg Config, job Job) (err error) {
	if s.locker != nil {
		if !s.locker.Acquire(job.SessionID, job.ID, cfg.LockLease) {
			return RetryAfter(fmt.Errorf("session %s is busy", job.SessionID), cfg.LockRetryAfter)
		}
		defer s.locker.Release(job.SessionID, job.ID)
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}

	// Panic guard: one bad payload must not kill a worker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked",
				logx.String("job_id", job.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	return s.send.Send(sendCtx, sender.Request{
		SessionID:     job.SessionID,
		SessionString: job.SessionString,
		Channel:       job.Channel,
		Message:       job.Message,
	})
}

// finish records the terminal outcome. Bookkeeping runs on a detached
// context so a shutdown racing the last jobs cannot lose completions.
func (s *Service) finish(job Job, success bool, attempts int, dur time.Duration, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if success {
		if err := s.store.TouchSession(ctx, job.SessionID, time.Now()); err != nil {
			s.log.Debug("session touch failed", logx.String("session_id", job.SessionID), logx.Err(err))
		}
		_ = s.store.AppendRunLog(ctx, job.RunID, "info",
			fmt.Sprintf("message sent to %s", job.Channel))
	} else {
		_ = s.store.AppendRunLog(ctx, job.RunID, "error",
			fmt.Sprintf("send to %s failed after %d attempts: %v", job.Channel, attempts, cause))
	}

	if err := s.store.DeletePendingJob(ctx, job.ID); err != nil {
		s.log.Warn("pending job cleanup failed", logx.String("job_id", job.ID), logx.Err(err))
	}

	// The single completion hook. Counters and run auto-completion live
	// behind it, nowhere else.
	if s.complete != nil {
		if err := s.complete.CompleteJob(ctx, job.RunID, job.ProjectID, job.ID, success); err != nil {
			s.log.Error("completion bookkeeping failed",
				logx.String("job_id", job.ID),
				logx.String("run_id", job.RunID),
				logx.Err(err),
			)
		}
	}

	ev := JobEvent{
		ID: job.ID, RunID: job.RunID, ProjectID: job.ProjectID,
		Channel: job.Channel, Attempts: attempts, Duration: dur,
	}
	if success {
		if dur >= 750*time.Millisecond {
			s.log.Info("job completed",
				logx.String("job_id", job.ID),
				logx.String("channel", job.Channel),
				logx.Duration("dur", dur),
				logx.Int("attempts", attempts),
			)
		} else {
			s.log.Debug("job completed",
				logx.String("job_id", job.ID),
				logx.String("channel", job.Channel),
				logx.Duration("dur", dur),
				logx.Int("attempts", attempts),
			)
		}
		s.publish(eventbus.TypeJobCompleted, ev)
	} else {
		ev.Error = cause.Error()
		s.log.Warn("job failed",
			logx.String("job_id", job.ID),
			logx.String("channel", job.Channel),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts),
			logx.Err(cause),
		)
		s.publish(eventbus.TypeJobFailed, ev)
	}
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	// Respect explicit retry-after hints (flood-wait, busy session).
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return jitter(d, cfg.RetryJitter, rng)
	}
	return backoffDelay(cfg, retry, rng)
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jitter(d, cfg.RetryJitter, rng)
}

func jitter(d time.Duration, j float64, rng *rand.Rand) time.Duration {
	if j <= 0 || d <= 0 || rng == nil {
		return d
	}
	r := (rng.Float64()*2 - 1) * j
	out := time.Duration(float64(d) * (1 + r))
	if out < 0 {
		return 0
	}
	return out
}
