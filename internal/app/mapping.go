package app

import (
	"fmt"
	"strings"
	"time"

	"blastd/internal/config"
	"blastd/internal/httpapi"
	"blastd/internal/queue"
	"blastd/internal/storage"
	"blastd/internal/sweeper"
)

// The mapping helpers translate the string-typed config file into the
// typed configs each component takes. They are also reused by the hot
// reload validator so a bad edit is rejected before commit.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	q := cfg.Queue
	if q.Workers < 0 {
		return queue.Config{}, fmt.Errorf("queue.workers must be >= 0")
	}
	if q.QueueSize < 0 {
		return queue.Config{}, fmt.Errorf("queue.queue_size must be >= 0")
	}
	if q.Attempts < 0 {
		return queue.Config{}, fmt.Errorf("queue.attempts must be >= 0")
	}
	if q.RetryJitter < 0 || q.RetryJitter > 1 {
		return queue.Config{}, fmt.Errorf("queue.retry_jitter must be in [0, 1]")
	}
	retryBase, err := config.ParseDurationOrDefault("queue.retry_base", q.RetryBase, 0)
	if err != nil {
		return queue.Config{}, err
	}
	retryMax, err := config.ParseDurationOrDefault("queue.retry_max_delay", q.RetryMaxDelay, 0)
	if err != nil {
		return queue.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("queue.send_timeout", q.SendTimeout, 0)
	if err != nil {
		return queue.Config{}, err
	}
	lockLease, err := config.ParseDurationOrDefault("queue.lock_lease", q.LockLease, 0)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		Workers:       q.Workers,
		QueueSize:     q.QueueSize,
		Attempts:      q.Attempts,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
		RetryJitter:   q.RetryJitter,
		SendTimeout:   sendTimeout,
		LockLease:     lockLease,
	}, nil
}

func mapSweeperConfig(cfg *config.Config) (sweeper.Config, error) {
	enabled := true
	if cfg.Sweeper.Enabled != nil {
		enabled = *cfg.Sweeper.Enabled
	}
	stuckAfter, err := config.ParseDurationOrDefault("sweeper.stuck_after", cfg.Sweeper.StuckAfter, 0)
	if err != nil {
		return sweeper.Config{}, err
	}
	return sweeper.Config{
		Enabled:    enabled,
		StuckSpec:  cfg.Sweeper.StuckSpec,
		HealthSpec: cfg.Sweeper.HealthSpec,
		StuckAfter: stuckAfter,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 0)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 0)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
	}, nil
}

func senderTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("sender.timeout", cfg.Sender.Timeout, 0)
}

func validateSenderConfig(cfg *config.Config) error {
	mode := strings.ToLower(strings.TrimSpace(cfg.Sender.Mode))
	switch mode {
	case "", "telegram":
	case "sidecar":
		if strings.TrimSpace(cfg.Sender.Sidecar.BaseURL) == "" {
			return fmt.Errorf("sender.sidecar.base_url is required in sidecar mode")
		}
	default:
		return fmt.Errorf("sender.mode: unknown mode %q", cfg.Sender.Mode)
	}
	if cfg.Sender.RatePerSec < 0 {
		return fmt.Errorf("sender.rate_per_sec must be >= 0")
	}
	if cfg.Sender.Burst < 0 {
		return fmt.Errorf("sender.burst must be >= 0")
	}
	if _, err := senderTimeout(cfg); err != nil {
		return err
	}
	return nil
}
