package config

// Config is the root configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue,omitempty"`
	Sender  SenderConfig  `json:"sender"`
	Sweeper SweeperConfig `json:"sweeper,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

// ServerConfig controls the admin HTTP API.
type ServerConfig struct {
	Addr            string `json:"addr,omitempty"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./blastd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// QueueConfig controls the delivery worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 5
//   - queue_size: 256
//   - attempts: 3
//   - retry_base: "2s"
//   - retry_max_delay: "30s"
//   - send_timeout: "60s"
//   - lock_lease: "5m"
type QueueConfig struct {
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	LockLease     string  `json:"lock_lease,omitempty"`
}

// SenderConfig selects and tunes the delivery transport.
//
// Mode is "telegram" (Bot API, session string = bot token) or "sidecar"
// (out-of-process userbot service).
type SenderConfig struct {
	Mode       string        `json:"mode"`
	RatePerSec float64       `json:"rate_per_sec,omitempty"` // per-session throttle, default 1
	Burst      int           `json:"burst,omitempty"`
	Timeout    string        `json:"timeout,omitempty"`
	Sidecar    SidecarConfig `json:"sidecar,omitempty"`
}

type SidecarConfig struct {
	BaseURL string `json:"base_url"`
	Secret  string `json:"secret"` // do not log
}

// SweeperConfig controls the reconciliation passes.
//
// Enabled is a pointer so "omitted" defaults to true while an explicit
// false still turns the sweeper off.
type SweeperConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	StuckSpec  string `json:"stuck_spec,omitempty"`  // default "*/2 * * * *"
	HealthSpec string `json:"health_spec,omitempty"` // default "*/10 * * * *"
	StuckAfter string `json:"stuck_after,omitempty"` // default "5m"
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

type DebugConfig struct {
	Pprof PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig controls the profiling listener. A non-loopback addr
// needs a token unless allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
