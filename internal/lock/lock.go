// Package lock provides per-session lease locks.
//
// A worker acquires a session before sending through it and releases it
// when the job finishes. Leases expire so a crashed worker cannot hold a
// session forever; release is token-gated so a worker whose lease already
// expired cannot free a lock that a later worker now holds.
package lock

import (
	"sync"
	"time"

	"blastd/internal/eventbus"
	"blastd/pkg/logx"
)

// DefaultLease matches the longest time a single send is allowed to take.
const DefaultLease = 5 * time.Minute

type lease struct {
	token   string
	expires time.Time
}

// Service hands out exclusive leases keyed by session id.
type Service struct {
	mu     sync.Mutex
	leases map[string]lease

	bus eventbus.Bus
	log logx.Logger
	now func() time.Time
}

type Option func(*Service)

// WithBus publishes lock acquire/release events.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(log logx.Logger, opts ...Option) *Service {
	s := &Service{
		leases: make(map[string]lease),
		log:    log.With(logx.String("component", "lock")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire attempts to take the session for the given holder token.
// It returns true when the lease was granted. An expired lease counts
// as free; the expired holder loses the session.
func (s *Service) Acquire(sessionID, token string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultLease
	}
	now := s.now()

	s.mu.Lock()
	cur, held := s.leases[sessionID]
	if held && now.Before(cur.expires) {
		s.mu.Unlock()
		return false
	}
	s.leases[sessionID] = lease{token: token, expires: now.Add(ttl)}
	s.mu.Unlock()

	s.log.Debug("session lock acquired",
		logx.String("session_id", sessionID),
		logx.Duration("ttl", ttl),
	)
	s.publish(eventbus.TypeLockAcquired, sessionID)
	return true
}

// Release frees the session only when the caller still holds it. A token
// mismatch means the lease expired and someone else took over; the lock is
// left untouched.
func (s *Service) Release(sessionID, token string) bool {
	now := s.now()

	s.mu.Lock()
	cur, held := s.leases[sessionID]
	if !held || cur.token != token {
		s.mu.Unlock()
		return false
	}
	expired := !now.Before(cur.expires)
	delete(s.leases, sessionID)
	s.mu.Unlock()

	if expired {
		s.log.Warn("session lock released after lease expiry",
			logx.String("session_id", sessionID))
	}
	s.publish(eventbus.TypeLockReleased, sessionID)
	return true
}

// Held reports whether the session currently has an unexpired lease.
func (s *Service) Held(sessionID string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, held := s.leases[sessionID]
	return held && now.Before(cur.expires)
}

func (s *Service) publish(typ, sessionID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: map[string]any{
			"session_id": sessionID,
		},
	})
}
