// Package folders manages the pending-documents tree: one subfolder per
// destination group under a root folder.
package folders

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"boletobot/internal/config"
	"boletobot/pkg/logx"
)

var (
	ErrOutsideRoot     = errors.New("folders: path outside root folder")
	ErrNotRegularFile  = errors.New("folders: not a regular file")
	ErrNotAbsolutePath = errors.New("folders: path must be absolute")
)

// GroupStatus is one group subfolder as seen by the last scan.
type GroupStatus struct {
	Name string `json:"name"`
	// RemoteID is empty when the folder has no mapping.
	RemoteID  string   `json:"remote_id,omitempty"`
	FileCount int      `json:"file_count"`
	Files     []string `json:"files"`
}

func (g GroupStatus) Mapped() bool { return strings.TrimSpace(g.RemoteID) != "" }

// AddResult reports one source of AddFiles. Exactly one of Copied or Err is set.
type AddResult struct {
	Original string `json:"original"`
	Copied   string `json:"copied,omitempty"`
	Err      error  `json:"-"`
}

type Store struct {
	log logx.Logger

	mu   sync.RWMutex
	root string
	exts []string
}

// NewStore creates root when missing. exts are matched case-insensitively;
// empty means ".pdf".
func NewStore(root string, exts []string, log logx.Logger) (*Store, error) {
	s := &Store{log: log.With(logx.String("comp", "folders"))}
	s.SetExtensions(exts)
	if err := s.SetRoot(root); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// SetRoot switches the root folder, creating it when missing.
func (s *Store) SetRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return errors.New("folders: root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create root folder: %w", err)
	}
	s.mu.Lock()
	s.root = abs
	s.mu.Unlock()
	return nil
}

func (s *Store) SetExtensions(exts []string) {
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			norm = append(norm, e)
		}
	}
	if len(norm) == 0 {
		norm = []string{".pdf"}
	}
	s.mu.Lock()
	s.exts = norm
	s.mu.Unlock()
}

func (s *Store) isDocument(name string) bool {
	lower := strings.ToLower(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// Scan lists the immediate subfolders of root with their documents, in
// directory order. Loose files in root are ignored.
func (s *Store) Scan(mapping map[string]string) []GroupStatus {
	root := s.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		s.log.Warn("scan root failed", logx.String("root", root), logx.Err(err))
		return []GroupStatus{}
	}
	out := make([]GroupStatus, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		files, err := s.documents(dir)
		if err != nil {
			s.log.Warn("scan group skipped", logx.String("dir", dir), logx.Err(err))
			continue
		}
		out = append(out, GroupStatus{
			Name:      e.Name(),
			RemoteID:  mapping[e.Name()],
			FileCount: len(files),
			Files:     files,
		})
	}
	return out
}

func (s *Store) documents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !s.isDocument(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// GroupPath returns where a group's folder lives, whether or not it exists.
func (s *Store) GroupPath(name string) string {
	return filepath.Join(s.Root(), name)
}

func (s *Store) CreateGroupFolder(name string) (string, error) {
	if err := config.ValidateGroupName(name); err != nil {
		return "", err
	}
	dir := s.GroupPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// AddFiles copies sources into the group folder. A failing source does not
// stop the others. Existing names are never overwritten: "a.pdf" becomes
// "a_1.pdf", "a_2.pdf" and so on.
func (s *Store) AddFiles(group string, sources []string) ([]AddResult, error) {
	dir, err := s.CreateGroupFolder(group)
	if err != nil {
		return nil, err
	}
	results := make([]AddResult, 0, len(sources))
	for _, src := range sources {
		dst, err := copyUnique(src, dir)
		if err != nil {
			s.log.Warn("copy failed", logx.String("src", src), logx.String("group", group), logx.Err(err))
			results = append(results, AddResult{Original: src, Err: fmt.Errorf("%s: %w", filepath.Base(src), err)})
			continue
		}
		s.log.Debug("file added", logx.String("src", src), logx.String("dst", dst))
		results = append(results, AddResult{Original: src, Copied: dst})
	}
	return results, nil
}

func copyUnique(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	if fi, err := in.Stat(); err != nil {
		return "", err
	} else if !fi.Mode().IsRegular() {
		return "", ErrNotRegularFile
	}

	name := filepath.Base(src)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	var out *os.File
	dst := filepath.Join(dir, name)
	for n := 1; ; n++ {
		// O_EXCL claims the name atomically.
		out, err = os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// Contains reports whether path resolves strictly inside root. Symlinked
// parents are resolved so a link cannot point the delete elsewhere.
func (s *Store) Contains(path string) bool {
	root := s.Root()
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if !inside(root, abs) {
		return false
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	realParent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		// parent is gone; nothing to delete but the lexical check already passed
		return errors.Is(err, fs.ErrNotExist)
	}
	return inside(realRoot, filepath.Join(realParent, filepath.Base(abs)))
}

func inside(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DeleteFile removes a regular file under root. Paths outside root and
// anything that is not a regular file (folders included) are refused.
func (s *Store) DeleteFile(path string) error {
	if !s.Contains(path) {
		s.log.Warn("refusing delete outside root", logx.String("path", path))
		return ErrOutsideRoot
	}
	abs, _ := filepath.Abs(path)
	fi, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return ErrNotRegularFile
	}
	return os.Remove(abs)
}

// DeleteOriginalFile removes a source file anywhere on disk. It must be an
// absolute path to a regular file; a missing file returns fs.ErrNotExist.
func DeleteOriginalFile(path string) error {
	if !filepath.IsAbs(path) {
		return ErrNotAbsolutePath
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return ErrNotRegularFile
	}
	return os.Remove(path)
}
