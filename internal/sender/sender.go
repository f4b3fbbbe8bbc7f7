// Package sender delivers a single message to a single channel through a
// given session. Implementations cover the Telegram Bot API and an HTTP
// sidecar that owns the userbot sessions.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Message type values.
const (
	TypeText  = "text"
	TypePhoto = "photo"
	TypeVideo = "video"
)

var ErrUnsupportedType = errors.New("sender: unsupported message type")

// Message is a fully resolved payload: content lookups (file bodies,
// captions) happen before it reaches a Sender.
type Message struct {
	Type  string
	Body  string // text body, or caption for media
	Media string // local file path for photo/video
}

// Request addresses one delivery.
type Request struct {
	SessionID     string
	SessionString string // credential for the session (bot token or session blob)
	Channel       string // @username or numeric chat id
	Message       Message
}

type Sender interface {
	Send(ctx context.Context, req Request) error
}

// Throttled wraps a Sender with a per-session rate limit so a burst of
// jobs cannot trip Telegram's flood control.
type Throttled struct {
	next  Sender
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func Throttle(next Sender, perSecond float64, burst int) *Throttled {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttled) Send(ctx context.Context, req Request) error {
	lim := t.limiter(req.SessionID)
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("sender: rate wait: %w", err)
	}
	return t.next.Send(ctx, req)
}

func (t *Throttled) limiter(sessionID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.limiters[sessionID] = lim
	}
	return lim
}
