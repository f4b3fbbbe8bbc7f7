package app

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"blastd/internal/config"
	"blastd/internal/dispatch"
	"blastd/internal/eventbus"
	"blastd/internal/httpapi"
	"blastd/internal/lifecycle"
	"blastd/internal/lock"
	"blastd/internal/observability"
	"blastd/internal/observability/pprof"
	"blastd/internal/queue"
	supervisor "blastd/internal/runtime/supervisor"
	"blastd/internal/sender"
	"blastd/internal/storage"
	"blastd/internal/sweeper"
	logx "blastd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	locks   *lock.Service
	tracker *lifecycle.Tracker
	queue   *queue.Service
	disp    *dispatch.Service
	sweep   *sweeper.Service
	metrics *observability.Metrics
	pprof   *pprof.Service
	api     *httpapi.Server

	shutdownTimeout time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	locks := lock.New(log.With(logx.String("comp", "lock")), lock.WithBus(bus))

	snd, err := buildSender(cfg, log)
	if err != nil {
		return nil, err
	}

	tracker := lifecycle.New(store, log.With(logx.String("comp", "lifecycle")), bus)

	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	q := queue.New(qcfg, log.With(logx.String("comp", "queue")), bus, store, locks, snd, tracker)

	disp := dispatch.New(store, q, tracker, log.With(logx.String("comp", "dispatch")))

	swCfg, err := mapSweeperConfig(cfg)
	if err != nil {
		return nil, err
	}
	sweep := sweeper.New(swCfg, store, tracker, log.With(logx.String("comp", "sweeper")))

	var metrics *observability.Metrics
	var apiOpts []httpapi.Option
	if cfg.Metrics.Enabled {
		metrics = observability.New(log.With(logx.String("comp", "metrics")))
		apiOpts = append(apiOpts, httpapi.WithMetricsHandler(metrics.Handler()))
	}

	pprofSvc := pprof.New(pprof.Config{
		Enabled:       cfg.Debug.Pprof.Enabled,
		Addr:          cfg.Debug.Pprof.Addr,
		Token:         cfg.Debug.Pprof.Token,
		AllowInsecure: cfg.Debug.Pprof.AllowInsecure,
	}, log)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(srvCfg, store, disp, log.With(logx.String("comp", "httpapi")), apiOpts...)

	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		locks:           locks,
		tracker:         tracker,
		queue:           q,
		disp:            disp,
		sweep:           sweep,
		metrics:         metrics,
		pprof:           pprofSvc,
		api:             api,
		shutdownTimeout: shutdown,
	}, nil
}

func buildSender(cfg *config.Config, log logx.Logger) (sender.Sender, error) {
	if err := validateSenderConfig(cfg); err != nil {
		return nil, err
	}
	timeout, err := senderTimeout(cfg)
	if err != nil {
		return nil, err
	}

	var base sender.Sender
	switch strings.ToLower(strings.TrimSpace(cfg.Sender.Mode)) {
	case "sidecar":
		base = sender.NewSidecar(sender.SidecarConfig{
			BaseURL: cfg.Sender.Sidecar.BaseURL,
			Secret:  cfg.Sender.Sidecar.Secret,
			Timeout: timeout,
		}, log)
	default:
		base = sender.NewTelegram(sender.TelegramConfig{Timeout: timeout}, log)
	}
	return sender.Throttle(base, cfg.Sender.RatePerSec, cfg.Sender.Burst), nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapQueueConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSweeperConfig(cfg); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		if _, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 0); err != nil {
			return err
		}
		return validateSenderConfig(cfg)
	})

	a.queue.Start(a.sup.Context())
	if a.metrics != nil {
		a.metrics.Start(a.sup.Context(), a.bus)
	}
	a.sweep.Start(a.sup.Context())
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	a.sup.Go("httpapi.serve", func(context.Context) error {
		return a.api.Start()
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// Debug visibility into job and run events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startWatchdog()
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("notified systemd: ready")
	}

	a.log.Info("blastd started")
	return nil
}

// applyConfig applies the hot-reloadable subset of a committed config.
// Storage, server, and queue topology changes need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "server", "queue", "sender", "debug":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})
}

// startWatchdog feeds the systemd watchdog when one is armed.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		tick := time.NewTicker(interval / 2)
		defer tick.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-tick.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(ctx, a.shutdownTimeout)
	defer cancel()

	// Stop intake first, then the workers, then the periodic passes.
	if err := a.api.Shutdown(stopCtx); err != nil {
		a.log.Warn("api shutdown", logx.Err(err))
	}
	a.sweep.Stop(stopCtx)
	a.queue.Stop(stopCtx)
	if a.metrics != nil {
		a.metrics.Stop(stopCtx)
	}
	a.pprof.Stop(stopCtx)

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(stopCtx); err != nil {
			a.log.Warn("supervisor wait", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	if err := a.logs.Close(); err != nil {
		return err
	}
	return nil
}
