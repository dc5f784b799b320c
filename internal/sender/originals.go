package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"boletobot/pkg/logx"
)

// Originals remembers which source file each copy came from, so the source
// can be deleted once the copy is delivered.
//
// A file-backed map is shared by every process using the same data
// directory: each call takes an advisory lock, reloads the file and writes
// it back when it changed. NewOriginals keeps the map in memory only.
type Originals struct {
	mu   sync.Mutex
	m    map[string]string
	path string
	lock *flock.Flock
	log  logx.Logger
}

func NewOriginals() *Originals {
	return &Originals{m: map[string]string{}}
}

// OpenOriginals loads the map kept at path, dropping entries whose copy no
// longer exists.
func OpenOriginals(path string, log logx.Logger) (*Originals, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	o := &Originals{
		m:    map[string]string{},
		path: path,
		lock: flock.New(path + ".lock"),
		log:  log.With(logx.String("comp", "originals")),
	}
	if err := o.update(pruneGone); err != nil {
		return nil, err
	}
	return o, nil
}

// Put records original as the source of copied. Entries whose copy is gone
// are dropped on the way.
func (o *Originals) Put(copied, original string) error {
	return o.update(func(m map[string]string) bool {
		pruneGone(m)
		m[copied] = original
		return true
	})
}

// Take returns and forgets the original of copied.
func (o *Originals) Take(copied string) (string, bool) {
	var (
		orig string
		ok   bool
	)
	err := o.update(func(m map[string]string) bool {
		orig, ok = m[copied]
		delete(m, copied)
		return ok
	})
	if err != nil {
		o.log.Warn("originals update failed", logx.String("copied", copied), logx.Err(err))
	}
	return orig, ok
}

func (o *Originals) Get(copied string) (string, bool) {
	var (
		orig string
		ok   bool
	)
	err := o.update(func(m map[string]string) bool {
		orig, ok = m[copied]
		return false
	})
	if err != nil {
		o.log.Warn("originals read failed", logx.Err(err))
	}
	return orig, ok
}

func (o *Originals) Len() int {
	n := 0
	if err := o.update(func(m map[string]string) bool {
		n = len(m)
		return false
	}); err != nil {
		o.log.Warn("originals read failed", logx.Err(err))
	}
	return n
}

// update runs fn against the current map and saves it when fn reports a
// change. The in-memory copy is kept when the file cannot be read.
func (o *Originals) update(fn func(m map[string]string) bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.path == "" {
		fn(o.m)
		return nil
	}

	if err := o.lock.Lock(); err != nil {
		fn(o.m)
		return fmt.Errorf("lock %s: %w", o.lock.Path(), err)
	}
	defer func() {
		if err := o.lock.Unlock(); err != nil {
			o.log.Warn("originals unlock failed", logx.Err(err))
		}
	}()

	m, err := readOriginals(o.path)
	if err != nil {
		fn(o.m)
		return err
	}
	o.m = m
	if !fn(m) {
		return nil
	}
	return writeOriginals(o.path, m)
}

func pruneGone(m map[string]string) bool {
	changed := false
	for copied := range m {
		if _, err := os.Lstat(copied); errors.Is(err, fs.ErrNotExist) {
			delete(m, copied)
			changed = true
		}
	}
	return changed
}

func readOriginals(path string) (map[string]string, error) {
	m := map[string]string{}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(b) == 0) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("originals %s: %w", path, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func writeOriginals(path string, m map[string]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
