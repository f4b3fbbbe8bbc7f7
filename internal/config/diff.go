package config

import (
	"reflect"
	"sort"
	"strings"

	logx "blastd/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus safe
// structured attrs for logging. Secrets (sidecar secret) never appear
// in the attrs.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.workers", newCfg.Queue.Workers),
			logx.Int("queue.attempts", newCfg.Queue.Attempts),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sender, newCfg.Sender) {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.String("sender.mode", strings.TrimSpace(newCfg.Sender.Mode)),
			logx.Float64("sender.rate_per_sec", newCfg.Sender.RatePerSec),
			logx.Bool("sender.sidecar_secret_set", strings.TrimSpace(newCfg.Sender.Sidecar.Secret) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sweeper, newCfg.Sweeper) {
		changed = append(changed, "sweeper")
		enabled := true
		if newCfg.Sweeper.Enabled != nil {
			enabled = *newCfg.Sweeper.Enabled
		}
		attrs = append(attrs, logx.Bool("sweeper.enabled", enabled))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof_enabled", newCfg.Debug.Pprof.Enabled),
			logx.Bool("debug.pprof_token_set", strings.TrimSpace(newCfg.Debug.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
