package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultMessageSingular = "Segue boleto em anexo."
	DefaultMessagePlural   = "Seguem os boletos em anexo."
	DefaultDelay           = "2s"
	DefaultFolderName      = "Valor Boletos"
)

// Default returns the built-in configuration. documentsDir and dataDir anchor the
// default folder and session directory; empty values fall back to the user's home.
func Default(documentsDir, dataDir string) *Config {
	if strings.TrimSpace(documentsDir) == "" {
		documentsDir = userDir("Documents")
	}
	if strings.TrimSpace(dataDir) == "" {
		dataDir = userDataDir()
	}
	return &Config{
		Folder:              filepath.Join(documentsDir, DefaultFolderName),
		Groups:              map[string]string{},
		MessageSingular:     DefaultMessageSingular,
		MessagePlural:       DefaultMessagePlural,
		DelayBetweenSends:   DefaultDelay,
		DeleteOriginalFiles: false,
		Extensions:          []string{".pdf"},
		Session: SessionConfig{
			Dir:                  filepath.Join(dataDir, "session"),
			ReconnectBase:        "1s",
			ReconnectMaxAttempts: 5,
			BadSessionDelay:      "1s",
		},
		Telegram: TelegramConfig{
			PollTimeout: "10s",
			RatePerSec:  1,
		},
		Storage:  &StorageConfig{Driver: "sqlite", BusyTimeout: "1s"},
		Watcher:  WatcherConfig{Debounce: "1s", Resync: "2s"},
		Progress: ProgressConfig{Throttle: "200ms"},
		Ops:      OpsConfig{Addr: "127.0.0.1:9464"},
		Logging:  LoggingConfig{Level: "INFO", Console: true},
	}
}

// migrateLegacy rewrites fields from older config layouts in place.
//
// A single "message" key predates the singular/plural split; it seeds both
// variants unless message_singular is already present.
func migrateLegacy(raw map[string]json.RawMessage) bool {
	msg, ok := raw["message"]
	if !ok {
		return false
	}
	delete(raw, "message")
	if _, has := raw["message_singular"]; has {
		return true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil || s == "" {
		return true
	}
	raw["message_singular"] = msg
	if _, has := raw["message_plural"]; !has {
		raw["message_plural"] = msg
	}
	return true
}

func userDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, name)
}

func userDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, "boletobot")
	}
	return filepath.Join(".", ".boletobot")
}
