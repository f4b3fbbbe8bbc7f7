package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"blastd/pkg/logx"
)

type fakeSender struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSender) Send(_ context.Context, _ Request) error {
	f.calls.Add(1)
	return f.err
}

func TestSidecarSend(t *testing.T) {
	t.Parallel()

	var got sidecarRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-internal-secret") != "hunter2" {
			t.Errorf("missing internal secret header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(sidecarResponse{OK: true})
	}))
	defer srv.Close()

	s := NewSidecar(SidecarConfig{BaseURL: srv.URL, Secret: "hunter2"}, logx.Nop())
	err := s.Send(context.Background(), Request{
		SessionID:     "sess-1",
		SessionString: "blob",
		Channel:       "@chan",
		Message:       Message{Type: TypeText, Body: "hello"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Channel != "@chan" || got.Type != TypeText || got.Body != "hello" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSidecarSendErrorSurface(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(sidecarResponse{OK: false, Error: "session revoked"})
	}))
	defer srv.Close()

	s := NewSidecar(SidecarConfig{BaseURL: srv.URL}, logx.Nop())
	err := s.Send(context.Background(), Request{Channel: "@chan", Message: Message{Type: TypeText}})
	if err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestSidecarUnsupportedType(t *testing.T) {
	t.Parallel()

	s := NewSidecar(SidecarConfig{BaseURL: "http://127.0.0.1:0"}, logx.Nop())
	err := s.Send(context.Background(), Request{Message: Message{Type: "sticker"}})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestThrottledPassesThrough(t *testing.T) {
	t.Parallel()

	next := &fakeSender{}
	th := Throttle(next, 100, 10)
	for i := 0; i < 5; i++ {
		if err := th.Send(context.Background(), Request{SessionID: "s"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if n := next.calls.Load(); n != 5 {
		t.Fatalf("expected 5 calls, got %d", n)
	}
}

func TestThrottledCancelledContext(t *testing.T) {
	t.Parallel()

	next := &fakeSender{}
	th := Throttle(next, 0.001, 1)

	// First send consumes the burst.
	if err := th.Send(context.Background(), Request{SessionID: "s"}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := th.Send(ctx, Request{SessionID: "s"}); err == nil {
		t.Fatal("expected error when waiting on a cancelled context")
	}
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}
