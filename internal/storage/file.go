package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"boletobot/pkg/logx"
)

// fileStore keeps the chat directory in memory, backed by:
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only ops since the snapshot)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	chats        map[int64]Chat
	writes       int
}

type journalOp struct {
	Op   string `json:"op"` // upsert | remove | migrate
	Chat *Chat  `json:"chat,omitempty"`
	ID   int64  `json:"id,omitempty"`
	To   int64  `json:"to,omitempty"`
}

const compactEvery = 200

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	chats := map[int64]Chat{}
	snap := prefix + ".snapshot.json"
	if err := loadSnapshot(snap, chats); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, snap, err)
	}
	journalPath := prefix + ".journal.jsonl"
	if err := replayJournal(journalPath, chats, log); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, snapshotPath: snap, journal: jf, chats: chats}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(op journalOp) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("chat journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) UpsertChat(_ context.Context, c Chat) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.chats[c.ID] = c
	return s.appendLocked(journalOp{Op: "upsert", Chat: &c})
}

func (s *fileStore) RemoveChat(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	delete(s.chats, id)
	return s.appendLocked(journalOp{Op: "remove", ID: id})
}

func (s *fileStore) MigrateChat(_ context.Context, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	applyMigrate(s.chats, from, to)
	return s.appendLocked(journalOp{Op: "migrate", ID: from, To: to})
}

func (s *fileStore) ListChats(_ context.Context) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	b, err := json.Marshal(s.chats)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func applyMigrate(m map[int64]Chat, from, to int64) {
	c, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	c.ID = to
	c.Type = "supergroup"
	c.UpdatedAt = time.Now()
	m[to] = c
}

func loadSnapshot(path string, out map[int64]Chat) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[int64]Chat
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal skips undecodable lines; a crash can leave a torn last line.
func replayJournal(path string, out map[int64]Chat, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			log.Warn("chat journal line skipped", logx.String("path", path), logx.Int("line", line), logx.Err(err))
			continue
		}
		switch op.Op {
		case "upsert":
			if op.Chat != nil {
				out[op.Chat.ID] = *op.Chat
			}
		case "remove":
			delete(out, op.ID)
		case "migrate":
			applyMigrate(out, op.ID, op.To)
		}
	}
	return sc.Err()
}
