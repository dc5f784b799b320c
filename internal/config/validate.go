package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"boletobot/pkg/logx"
)

// Validate checks field-level constraints. It never touches the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Folder) == "" {
		errs = append(errs, errors.New("folder is required"))
	}
	for name := range cfg.Groups {
		if err := ValidateGroupName(name); err != nil {
			errs = append(errs, fmt.Errorf("groups: %w", err))
		}
	}
	durations := []struct{ path, raw string }{
		{"delay_between_sends", cfg.DelayBetweenSends},
		{"session.reconnect_base", cfg.Session.ReconnectBase},
		{"session.bad_session_delay", cfg.Session.BadSessionDelay},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"watcher.debounce", cfg.Watcher.Debounce},
		{"watcher.resync", cfg.Watcher.Resync},
		{"progress.throttle", cfg.Progress.Throttle},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Session.ReconnectMaxAttempts < 0 {
		errs = append(errs, errors.New("session.reconnect_max_attempts must be >= 0"))
	}
	if cfg.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec must be >= 0"))
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("extensions: %q must start with a dot", ext))
		}
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err))
		}
	}
	if cfg.Schedule.Enabled && strings.TrimSpace(cfg.Schedule.Spec) == "" {
		errs = append(errs, errors.New("schedule.spec is required when schedule.enabled is true"))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	return errors.Join(errs...)
}

// ValidateGroupName rejects names that would escape the root folder or nest folders.
func ValidateGroupName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return errors.New("group name is empty")
	case n == "." || n == "..":
		return fmt.Errorf("group name %q is reserved", name)
	case strings.ContainsAny(n, `/\`):
		return fmt.Errorf("group name %q must not contain path separators", name)
	case strings.ContainsRune(n, 0):
		return fmt.Errorf("group name %q contains NUL", name)
	}
	return nil
}
