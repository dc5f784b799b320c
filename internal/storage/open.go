package storage

import (
	"context"
	"errors"
	"strings"

	"boletobot/pkg/logx"
)

// Store is the chat directory.
type Store interface {
	UpsertChat(ctx context.Context, c Chat) error
	RemoveChat(ctx context.Context, id int64) error
	// MigrateChat moves an entry to a new id (group upgraded to supergroup).
	MigrateChat(ctx context.Context, from, to int64) error
	ListChats(ctx context.Context) ([]Chat, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// FileName is the store file name used inside a session directory.
func FileName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "file":
		return "chats.json"
	default:
		return "chats.db"
	}
}
