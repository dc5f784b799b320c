package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"boletobot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		// A file that is not a database fails here.
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertChat(ctx context.Context, c Chat) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(id, title, type, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, type=excluded.type, updated_at=excluded.updated_at`,
		c.ID, c.Title, c.Type, c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RemoveChat(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) MigrateChat(ctx context.Context, from, to int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET id = ?, type = 'supergroup', updated_at = ? WHERE id = ?`,
		to, time.Now().UnixMilli(), from,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListChats(ctx context.Context) ([]Chat, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, type, updated_at FROM chats ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var (
			c  Chat
			ms int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Type, &ms); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(ms)
		out = append(out, c)
	}
	return out, rows.Err()
}
