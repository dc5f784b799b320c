package config

import (
	"reflect"
	"sort"
	"strings"

	"boletobot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured fields for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Folder) != strings.TrimSpace(newCfg.Folder) {
		changed = append(changed, "folder")
		attrs = append(attrs, logx.String("folder", newCfg.Folder))
	}
	if !reflect.DeepEqual(oldCfg.Groups, newCfg.Groups) {
		changed = append(changed, "groups")
		attrs = append(attrs, logx.Int("groups.count", len(newCfg.Groups)))
	}
	if oldCfg.MessageSingular != newCfg.MessageSingular ||
		oldCfg.MessagePlural != newCfg.MessagePlural ||
		strings.TrimSpace(oldCfg.DelayBetweenSends) != strings.TrimSpace(newCfg.DelayBetweenSends) ||
		oldCfg.DeleteOriginalFiles != newCfg.DeleteOriginalFiles ||
		!reflect.DeepEqual(oldCfg.Extensions, newCfg.Extensions) {
		changed = append(changed, "send")
		attrs = append(attrs,
			logx.String("send.delay", strings.TrimSpace(newCfg.DelayBetweenSends)),
			logx.Bool("send.delete_original_files", newCfg.DeleteOriginalFiles),
			logx.Strings("send.extensions", newCfg.Extensions),
		)
	}

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Session, newCfg.Session) {
		changed = append(changed, "session")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.WatcherEnabled() != newCfg.WatcherEnabled() ||
		oldCfg.Watcher.Debounce != newCfg.Watcher.Debounce ||
		oldCfg.Watcher.Resync != newCfg.Watcher.Resync {
		changed = append(changed, "watcher")
		attrs = append(attrs, logx.Bool("watcher.enabled", newCfg.WatcherEnabled()))
	}
	if oldCfg.Progress != newCfg.Progress {
		changed = append(changed, "progress")
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", strings.TrimSpace(newCfg.Schedule.Spec)),
		)
	}
	// Ops (never log token)
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		strings.TrimSpace(oldCfg.Ops.Addr) != strings.TrimSpace(newCfg.Ops.Addr) ||
		oldCfg.Ops.Pprof != newCfg.Ops.Pprof ||
		oldCfg.Ops.Token != newCfg.Ops.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections whose changes only apply after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "session", "storage", "progress":
			out = append(out, s)
		}
	}
	return out
}
