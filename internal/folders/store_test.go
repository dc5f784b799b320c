package folders

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boletobot/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tmp := t.TempDir()
	s, err := NewStore(filepath.Join(tmp, "boletos"), nil, logx.Nop())
	require.NoError(t, err)
	return s, tmp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewStoreCreatesRoot(t *testing.T) {
	s, tmp := newTestStore(t)
	assert.DirExists(t, s.Root())

	require.NoError(t, s.SetRoot(filepath.Join(tmp, "other")))
	assert.DirExists(t, filepath.Join(tmp, "other"))
}

func TestScanEmptyRoot(t *testing.T) {
	s, _ := newTestStore(t)
	groups := s.Scan(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestScanCountsDocumentsCaseInsensitive(t *testing.T) {
	s, _ := newTestStore(t)
	dir := filepath.Join(s.Root(), "GrupoA")
	writeFile(t, filepath.Join(dir, "a.pdf"), "x")
	writeFile(t, filepath.Join(dir, "b.PDF"), "x")
	writeFile(t, filepath.Join(dir, "c.Pdf"), "x")
	writeFile(t, filepath.Join(dir, "readme.txt"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.pdf"), 0o755))
	writeFile(t, filepath.Join(s.Root(), "loose.pdf"), "x")

	groups := s.Scan(map[string]string{"GrupoA": "-100"})
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "GrupoA", g.Name)
	assert.Equal(t, "-100", g.RemoteID)
	assert.True(t, g.Mapped())
	assert.Equal(t, 3, g.FileCount)
	assert.Len(t, g.Files, g.FileCount)
	for _, f := range g.Files {
		assert.True(t, filepath.IsAbs(f))
		assert.Equal(t, dir, filepath.Dir(f))
	}
}

func TestScanUnmappedGroup(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, filepath.Join(s.Root(), "GrupoA", "b.pdf"), "x")

	groups := s.Scan(map[string]string{})
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0].RemoteID)
	assert.False(t, groups[0].Mapped())
}

func TestScanCustomExtensions(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetExtensions([]string{".PDF", ".xml"})
	dir := filepath.Join(s.Root(), "G")
	writeFile(t, filepath.Join(dir, "a.pdf"), "x")
	writeFile(t, filepath.Join(dir, "nfe.XML"), "x")
	writeFile(t, filepath.Join(dir, "c.txt"), "x")

	groups := s.Scan(nil)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].FileCount)
}

func TestScanSkipsUnreadableGroup(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	s, _ := newTestStore(t)
	writeFile(t, filepath.Join(s.Root(), "ok", "a.pdf"), "x")
	locked := filepath.Join(s.Root(), "locked")
	writeFile(t, filepath.Join(locked, "b.pdf"), "x")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	groups := s.Scan(nil)
	require.Len(t, groups, 1)
	assert.Equal(t, "ok", groups[0].Name)
}

func TestAddFilesCopiesAndCreatesGroup(t *testing.T) {
	s, tmp := newTestStore(t)
	src := filepath.Join(tmp, "original.pdf")
	writeFile(t, src, "pdf-content")

	res, err := s.AddFiles("NovoGrupo", []string{src})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, src, res[0].Original)
	assert.Equal(t, filepath.Join(s.Root(), "NovoGrupo", "original.pdf"), res[0].Copied)

	b, err := os.ReadFile(res[0].Copied)
	require.NoError(t, err)
	assert.Equal(t, "pdf-content", string(b))
	assert.FileExists(t, src)
}

func TestAddFilesNeverOverwrites(t *testing.T) {
	s, tmp := newTestStore(t)
	writeFile(t, filepath.Join(s.Root(), "GrupoA", "dup.pdf"), "v0")
	src := filepath.Join(tmp, "dup.pdf")
	writeFile(t, src, "v1")

	res, err := s.AddFiles("GrupoA", []string{src})
	require.NoError(t, err)
	assert.Equal(t, "dup_1.pdf", filepath.Base(res[0].Copied))

	res, err = s.AddFiles("GrupoA", []string{src})
	require.NoError(t, err)
	assert.Equal(t, "dup_2.pdf", filepath.Base(res[0].Copied))

	b, err := os.ReadFile(filepath.Join(s.Root(), "GrupoA", "dup.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "v0", string(b))
}

func TestAddFilesPartialSuccess(t *testing.T) {
	s, tmp := newTestStore(t)
	good := filepath.Join(tmp, "good.pdf")
	writeFile(t, good, "ok")

	res, err := s.AddFiles("GrupoA", []string{filepath.Join(tmp, "ghost.pdf"), good})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Error(t, res[0].Err)
	assert.Contains(t, res[0].Err.Error(), "ghost.pdf")
	assert.Empty(t, res[0].Copied)
	assert.NoError(t, res[1].Err)
	assert.FileExists(t, res[1].Copied)
}

func TestAddFilesRejectsBadGroupName(t *testing.T) {
	s, tmp := newTestStore(t)
	src := filepath.Join(tmp, "a.pdf")
	writeFile(t, src, "x")

	_, err := s.AddFiles("../escape", []string{src})
	assert.Error(t, err)
	assert.NoDirExists(t, filepath.Join(tmp, "escape"))
}

func TestAddThenScanThenDelete(t *testing.T) {
	s, tmp := newTestStore(t)
	src := filepath.Join(tmp, "boleto.pdf")
	writeFile(t, src, "x")

	res, err := s.AddFiles("G", []string{src})
	require.NoError(t, err)
	copied := res[0].Copied

	groups := s.Scan(nil)
	require.Len(t, groups, 1)
	assert.Contains(t, groups[0].Files, copied)

	require.NoError(t, s.DeleteFile(copied))
	groups = s.Scan(nil)
	assert.NotContains(t, groups[0].Files, copied)
}

func TestDeleteFileRefusesOutsideRoot(t *testing.T) {
	s, tmp := newTestStore(t)
	outside := filepath.Join(tmp, "outside.pdf")
	writeFile(t, outside, "secret")

	cases := []string{
		outside,
		filepath.Join(s.Root(), "..", "outside.pdf"),
		filepath.Join(s.Root(), "G", "..", "..", "outside.pdf"),
		s.Root(),
		filepath.Join(s.Root(), "."),
	}
	for _, p := range cases {
		assert.ErrorIs(t, s.DeleteFile(p), ErrOutsideRoot, p)
	}
	assert.FileExists(t, outside)
	assert.DirExists(t, s.Root())
}

func TestDeleteFileRefusesSymlinkedParent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges")
	}
	s, tmp := newTestStore(t)
	elsewhere := filepath.Join(tmp, "elsewhere")
	target := filepath.Join(elsewhere, "secret.pdf")
	writeFile(t, target, "secret")
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(s.Root(), "link")))

	assert.ErrorIs(t, s.DeleteFile(filepath.Join(s.Root(), "link", "secret.pdf")), ErrOutsideRoot)
	assert.FileExists(t, target)
}

func TestDeleteFileMissing(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.DeleteFile(filepath.Join(s.Root(), "nope.pdf"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestDeleteFileRefusesFolders(t *testing.T) {
	s, _ := newTestStore(t)
	empty, err := s.CreateGroupFolder("ClienteA")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteFile(empty), ErrNotRegularFile)
	assert.DirExists(t, empty)
}

func TestDeleteOriginalFile(t *testing.T) {
	_, tmp := newTestStore(t)
	target := filepath.Join(tmp, "original.pdf")
	writeFile(t, target, "x")

	require.NoError(t, DeleteOriginalFile(target))
	assert.NoFileExists(t, target)

	assert.ErrorIs(t, DeleteOriginalFile(target), fs.ErrNotExist)
	assert.ErrorIs(t, DeleteOriginalFile("relative.pdf"), ErrNotAbsolutePath)
	assert.ErrorIs(t, DeleteOriginalFile(tmp), ErrNotRegularFile)
	assert.DirExists(t, tmp)
}

func TestGroupPathAndCreate(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, filepath.Join(s.Root(), "Acme"), s.GroupPath("Acme"))

	dir, err := s.CreateGroupFolder("Acme")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = s.CreateGroupFolder("Acme")
	assert.NoError(t, err)

	_, err = s.CreateGroupFolder("a/b")
	assert.Error(t, err)
}
