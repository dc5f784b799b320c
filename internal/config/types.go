package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "2s", "1m").
type Config struct {
	// Folder is the root directory holding one subfolder per destination group.
	Folder string `json:"folder"`

	// Groups maps a folder name to the remote group id it is delivered to.
	Groups map[string]string `json:"groups"`

	MessageSingular string `json:"message_singular"`
	MessagePlural   string `json:"message_plural"`

	// DelayBetweenSends is waited between two groups (never between files of one group).
	DelayBetweenSends string `json:"delay_between_sends"`

	DeleteOriginalFiles bool   `json:"delete_original_files"`
	DefaultSourceFolder string `json:"default_source_folder,omitempty"`

	// Extensions lists recognized document extensions (case-insensitive, with dot).
	Extensions []string `json:"extensions,omitempty"`

	Session  SessionConfig  `json:"session"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Watcher  WatcherConfig  `json:"watcher"`
	Progress ProgressConfig `json:"progress"`
	Schedule ScheduleConfig `json:"schedule"`
	Ops      OpsConfig      `json:"ops"`
	Logging  LoggingConfig  `json:"logging"`
}

// SessionConfig controls the connection lifecycle to the chat platform.
type SessionConfig struct {
	// Dir holds persisted credentials. Logout deletes and recreates it.
	Dir string `json:"dir"`

	ReconnectBase        string `json:"reconnect_base,omitempty"`
	ReconnectMaxAttempts int    `json:"reconnect_max_attempts,omitempty"`
	BadSessionDelay      string `json:"bad_session_delay,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec bounds outbound sends (text + documents).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls where the chat directory is persisted inside the session dir.
//
// Example:
//
//	"storage": { "driver": "sqlite", "busy_timeout": "1s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// WatcherConfig controls folder change notifications.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an explicit false.
type WatcherConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Debounce string `json:"debounce,omitempty"`
	Resync   string `json:"resync,omitempty"`
}

type ProgressConfig struct {
	Throttle string `json:"throttle,omitempty"`
}

// ScheduleConfig triggers send runs automatically.
//
// Spec accepts cron ("0 9 * * 1-5", "@hourly") or an interval ("30m", "01:30").
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// OpsConfig controls the operational HTTP server (healthz, metrics, status, pprof).
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9464").
//   - A non-loopback address requires a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`
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

// WatcherEnabled reports the effective watcher flag.
func (c *Config) WatcherEnabled() bool {
	if c == nil || c.Watcher.Enabled == nil {
		return true
	}
	return *c.Watcher.Enabled
}

// Clone returns a deep copy safe to mutate.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Groups = make(map[string]string, len(c.Groups))
	for k, v := range c.Groups {
		cp.Groups[k] = v
	}
	cp.Extensions = append([]string(nil), c.Extensions...)
	if c.Storage != nil {
		s := *c.Storage
		cp.Storage = &s
	}
	if c.Watcher.Enabled != nil {
		en := *c.Watcher.Enabled
		cp.Watcher.Enabled = &en
	}
	return &cp
}
