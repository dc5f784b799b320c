package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boletobot/internal/app"
	"boletobot/internal/transport"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []string
}

func (c *fakeConn) Connect(_ context.Context, events chan<- transport.ConnEvent) error {
	events <- transport.ConnOpen{}
	return nil
}

func (c *fakeConn) SendText(_ context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, id+":"+text)
	return nil
}

func (c *fakeConn) SendDocument(_ context.Context, id, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, id+":"+filepath.Base(path))
	return nil
}

func (c *fakeConn) ListGroups(context.Context) ([]transport.Group, error) {
	return []transport.Group{{ID: "-100", Name: "Condomínio A"}}, nil
}

func (c *fakeConn) Logout(context.Context) error { return nil }
func (c *fakeConn) Close() error                 { return nil }

type cliHarness struct {
	tmp  string
	cfg  string
	conn *fakeConn
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	tmp := t.TempDir()
	h := &cliHarness{tmp: tmp, cfg: filepath.Join(tmp, "config.json"), conn: &fakeConn{}}
	raw := `{
  "folder": ` + quote(filepath.Join(tmp, "boletos")) + `,
  "session": {"dir": ` + quote(filepath.Join(tmp, "session")) + `},
  "storage": {"driver": "none"},
  "logging": {"level": "ERROR", "console": false, "file": {"enabled": false, "path": ""}}
}`
	require.NoError(t, os.WriteFile(h.cfg, []byte(raw), 0o600))
	return h
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (h *cliHarness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ro := &rootOptions{
		newApp: func(cfgPath string, opts app.Options) (*app.App, error) {
			opts.Dialer = func(string) (transport.Conn, error) { return h.conn, nil }
			opts.DocumentsDir = h.tmp
			opts.DataDir = h.tmp
			opts.Opener = func(string) error { return nil }
			return app.New(cfgPath, opts)
		},
	}
	cmd := newRootCmd(ro)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.cfg, "--wait", "5s"}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func (h *cliHarness) source(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(h.tmp, "in", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
	return p
}

func TestMapAndConfigGet(t *testing.T) {
	h := newCLIHarness(t)

	_, _, err := h.run(t, "map", "Bloco A", "-100")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(h.tmp, "boletos", "Bloco A"))

	out, _, err := h.run(t, "config", "get", "groups.Bloco A")
	require.NoError(t, err)
	assert.Equal(t, "-100\n", out)

	_, _, err = h.run(t, "map", "--remove", "Bloco A")
	require.NoError(t, err)
	_, _, err = h.run(t, "config", "get", "groups.Bloco A")
	assert.Error(t, err)

	_, _, err = h.run(t, "map", "Bloco A")
	assert.Error(t, err)
}

func TestConfigSet(t *testing.T) {
	h := newCLIHarness(t)

	_, _, err := h.run(t, "config", "set", "delay_between_sends", "5s")
	require.NoError(t, err)
	out, _, err := h.run(t, "config", "get", "delay_between_sends")
	require.NoError(t, err)
	assert.Equal(t, "5s\n", out)

	_, _, err = h.run(t, "config", "set", "message_singular", "123")
	require.NoError(t, err)
	out, _, err = h.run(t, "config", "get", "message_singular")
	require.NoError(t, err)
	assert.Equal(t, "123\n", out)

	_, _, err = h.run(t, "config", "set", "telegram.rate_per_sec", "3")
	require.NoError(t, err)
	out, _, err = h.run(t, "config", "get", "telegram.rate_per_sec")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	_, _, err = h.run(t, "config", "set", "no_such_key", "1")
	assert.Error(t, err)
	_, _, err = h.run(t, "config", "set", "delay_between_sends", "soon")
	assert.Error(t, err)
}

func TestAddScanDelete(t *testing.T) {
	h := newCLIHarness(t)

	out, _, err := h.run(t, "add", "A", h.source(t, "b1.pdf"), h.source(t, "b2.PDF"))
	require.NoError(t, err)
	copied := strings.Fields(out)
	require.Len(t, copied, 2)

	out, _, err = h.run(t, "--json", "scan")
	require.NoError(t, err)
	var rows []scanRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Group)
	assert.Equal(t, 2, rows[0].Files)
	assert.Equal(t, uint64(16), rows[0].Bytes)

	out, _, err = h.run(t, "scan", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "(sem mapeamento)")
	assert.Contains(t, out, "b1.pdf")

	_, _, err = h.run(t, "delete", copied[0])
	require.NoError(t, err)
	assert.NoFileExists(t, copied[0])

	_, _, err = h.run(t, "delete", h.source(t, "b1.pdf"))
	assert.Error(t, err)

	_, errOut, err := h.run(t, "add", "A", filepath.Join(h.tmp, "missing.pdf"))
	assert.Error(t, err)
	assert.Contains(t, errOut, "missing.pdf")
}

func TestPath(t *testing.T) {
	h := newCLIHarness(t)
	out, _, err := h.run(t, "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.tmp, "boletos")+"\n", out)

	out, _, err = h.run(t, "path", "--create", "B")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.tmp, "boletos", "B")+"\n", out)
	assert.DirExists(t, filepath.Join(h.tmp, "boletos", "B"))

	_, _, err = h.run(t, "path", "..")
	assert.Error(t, err)
}

func TestSendAndGroups(t *testing.T) {
	h := newCLIHarness(t)

	out, _, err := h.run(t, "--json", "groups")
	require.NoError(t, err)
	var groups []transport.Group
	require.NoError(t, json.Unmarshal([]byte(out), &groups))
	assert.Equal(t, []transport.Group{{ID: "-100", Name: "Condomínio A"}}, groups)

	_, _, err = h.run(t, "map", "A", "-100")
	require.NoError(t, err)
	_, _, err = h.run(t, "add", "A", h.source(t, "b1.pdf"))
	require.NoError(t, err)

	out, _, err = h.run(t, "send")
	require.NoError(t, err)
	assert.Contains(t, out, "Enviados 1 de 1 boletos")
	assert.Equal(t, []string{"-100:Segue boleto em anexo.", "-100:b1.pdf"}, h.conn.sent)

	out, _, err = h.run(t, "send")
	require.NoError(t, err)
	assert.Contains(t, out, "Nenhum boleto pendente.")
}

func TestStopReasonDefaultsToCommand(t *testing.T) {
	ro := &rootOptions{}
	assert.Equal(t, app.StopCommand, ro.stopReason())
	ro.reason = func() app.StopReason { return app.StopUnknown }
	assert.Equal(t, app.StopCommand, ro.stopReason())
	ro.reason = func() app.StopReason { return app.StopSIGTERM }
	assert.Equal(t, app.StopSIGTERM, ro.stopReason())
}
