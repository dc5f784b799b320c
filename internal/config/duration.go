package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is used by the typed accessors below. Validate() has already
// rejected malformed values, so parse errors fall back to def.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

// Delay is the wait between two groups. An explicit "0s" disables it.
func (c *Config) Delay() time.Duration {
	if strings.TrimSpace(c.DelayBetweenSends) == "" {
		return 2 * time.Second
	}
	d, err := ParseDurationField("delay_between_sends", c.DelayBetweenSends)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func (c *Config) ReconnectBase() time.Duration {
	return durationOr(c.Session.ReconnectBase, time.Second)
}

func (c *Config) BadSessionDelay() time.Duration {
	return durationOr(c.Session.BadSessionDelay, time.Second)
}

func (c *Config) ReconnectMaxAttempts() int {
	if c.Session.ReconnectMaxAttempts <= 0 {
		return 5
	}
	return c.Session.ReconnectMaxAttempts
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) WatchDebounce() time.Duration {
	return durationOr(c.Watcher.Debounce, time.Second)
}

func (c *Config) WatchResync() time.Duration {
	return durationOr(c.Watcher.Resync, 2*time.Second)
}

func (c *Config) ProgressThrottle() time.Duration {
	return durationOr(c.Progress.Throttle, 200*time.Millisecond)
}

func (c *Config) StorageBusyTimeout() time.Duration {
	if c.Storage == nil {
		return time.Second
	}
	return durationOr(c.Storage.BusyTimeout, time.Second)
}
