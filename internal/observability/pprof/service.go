// Package pprof serves the runtime profiling endpoints on a dedicated
// listener, kept separate from the admin API so profiling exposure can
// be locked down independently.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "blastd/internal/runtime/supervisor"
	logx "blastd/pkg/logx"
)

// Config controls the pprof HTTP server.
//
// Binding to a non-loopback address requires a token unless AllowInsecure
// is set.
type Config struct {
	Enabled       bool
	Addr          string // default "127.0.0.1:6060"
	Token         string
	AllowInsecure bool
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "pprof"))}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Profiling is optional; its failures never take the app down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	sup := s.sup
	s.srv = nil
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	cfg := s.cfg

	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopback(cfg.Addr) {
		s.log.Error("pprof refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", cfg.Addr))
		return errors.New("pprof refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	mux := http.NewServeMux()
	auth := authWrap(cfg.Token)
	mux.HandleFunc("/debug/pprof/", auth(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", auth(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", auth(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", auth(hpprof.Trace))

	srv := &http.Server{Handler: mux, ReadTimeout: 15 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	return err
}

func authWrap(token string) func(http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return func(h http.HandlerFunc) http.HandlerFunc { return h }
	}
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
}

func isLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
