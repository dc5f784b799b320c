package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"boletobot/internal/config"
	"boletobot/internal/folders"
	"boletobot/internal/observability"
	"boletobot/internal/schedule"
	"boletobot/internal/sender"
	"boletobot/internal/session"
	"boletobot/internal/storage"
	"boletobot/internal/transport/telegram"
	"boletobot/pkg/logx"
)

// validateConfig is installed on the ConfigManager so bad edits and bad
// hot reloads are rejected before they are committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Schedule.Enabled {
		if err := schedule.Validate(cfg.Schedule.Spec, cfg.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	if cfg.Ops.Enabled && cfg.Ops.Token == "" {
		addr := strings.TrimSpace(cfg.Ops.Addr)
		if host, _, err := net.SplitHostPort(addr); addr != "" && (err != nil || !isLoopbackHost(host)) {
			return errors.New("ops: a non-loopback addr requires ops.token")
		}
	}
	return nil
}

func isLoopbackHost(h string) bool {
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		BusyTimeout: cfg.StorageBusyTimeout(),
	}
}

func mapTelegramOptions(cfg *config.Config, log logx.Logger) telegram.Options {
	return telegram.Options{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
		RatePerSec:  cfg.Telegram.RatePerSec,
		Storage:     mapStorageConfig(cfg),
		Log:         log,
	}
}

func mapPolicy(cfg *config.Config) session.Policy {
	return session.Policy{
		Base:            cfg.ReconnectBase(),
		MaxAttempts:     cfg.ReconnectMaxAttempts(),
		BadSessionDelay: cfg.BadSessionDelay(),
	}
}

func mapSettings(cfg *config.Config) sender.Settings {
	groups := make(map[string]string, len(cfg.Groups))
	for k, v := range cfg.Groups {
		groups[k] = v
	}
	return sender.Settings{
		Groups:          groups,
		MessageSingular: cfg.MessageSingular,
		MessagePlural:   cfg.MessagePlural,
		Delay:           cfg.Delay(),
		DeleteOriginals: cfg.DeleteOriginalFiles,
	}
}

func mapWatcherOptions(cfg *config.Config) folders.WatcherOptions {
	return folders.WatcherOptions{
		Debounce: cfg.WatchDebounce(),
		Resync:   cfg.WatchResync(),
	}
}

func mapOpsConfig(cfg *config.Config) observability.ServerConfig {
	return observability.ServerConfig{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
		Token:   cfg.Ops.Token,
		Pprof:   cfg.Ops.Pprof,
	}
}
