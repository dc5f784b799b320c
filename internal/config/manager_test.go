package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, name, content string) *ConfigManager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return NewConfigManager(path).WithDefaultsDirs(filepath.Join(dir, "docs"), filepath.Join(dir, "data"))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	m := newTestManager(t, "config.json", "")
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMessageSingular, cfg.MessageSingular)
	assert.Equal(t, DefaultMessagePlural, cfg.MessagePlural)
	assert.Equal(t, 2*time.Second, cfg.Delay())
	assert.False(t, cfg.DeleteOriginalFiles)
	assert.Equal(t, []string{".pdf"}, cfg.Extensions)
	assert.NotNil(t, cfg.Groups)
	assert.Equal(t, DefaultFolderName, filepath.Base(cfg.Folder))
}

func TestLoadMergesDefaultsForMissingFields(t *testing.T) {
	m := newTestManager(t, "config.json", `{"folder":"/srv/boletos","groups":{"Acme":"-100123"}}`)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/boletos", cfg.Folder)
	assert.Equal(t, map[string]string{"Acme": "-100123"}, cfg.Groups)
	assert.Equal(t, DefaultMessagePlural, cfg.MessagePlural)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts())
}

func TestLoadMigratesLegacyMessage(t *testing.T) {
	m := newTestManager(t, "config.json", `{"message":"Boleto do mês"}`)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "Boleto do mês", cfg.MessageSingular)
	assert.Equal(t, "Boleto do mês", cfg.MessagePlural)
}

func TestLoadKeepsExplicitSingularOverLegacyMessage(t *testing.T) {
	m := newTestManager(t, "config.json", `{"message":"old","message_singular":"one","message_plural":"many"}`)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "one", cfg.MessageSingular)
	assert.Equal(t, "many", cfg.MessagePlural)
}

func TestLoadRejectsUnknownFieldsAndCorruptJSON(t *testing.T) {
	_, err := newTestManager(t, "config.json", `{"nope":1}`).Load()
	require.Error(t, err)

	_, err = newTestManager(t, "config.json", `{"folder":`).Load()
	require.Error(t, err)

	_, err = newTestManager(t, "config.json", `{"folder":"a"}{"folder":"b"}`).Load()
	require.Error(t, err)
}

func TestLoadYAMLAndTOML(t *testing.T) {
	y := newTestManager(t, "config.yaml", "folder: /data/y\ngroups:\n  Acme: \"-1\"\ndelay_between_sends: 3s\n")
	cfg, err := y.Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/y", cfg.Folder)
	assert.Equal(t, "-1", cfg.Groups["Acme"])
	assert.Equal(t, 3*time.Second, cfg.Delay())

	tm := newTestManager(t, "config.toml", "folder = \"/data/t\"\ndelete_original_files = true\n[groups]\nAcme = \"-2\"\n")
	cfg, err = tm.Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/t", cfg.Folder)
	assert.True(t, cfg.DeleteOriginalFiles)
	assert.Equal(t, "-2", cfg.Groups["Acme"])
}

func TestUpdateSavesCommitsAndPublishes(t *testing.T) {
	m := newTestManager(t, "nested/config.json", "")
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	next, err := m.Update(context.Background(), func(cfg *Config) error {
		cfg.Groups["Acme"] = "-100"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "-100", next.Groups["Acme"])
	assert.Equal(t, "-100", m.Get().Groups["Acme"])

	select {
	case got := <-sub:
		assert.Equal(t, "-100", got.Groups["Acme"])
	case <-time.After(time.Second):
		t.Fatal("expected published config")
	}

	reloaded, err := NewConfigManager(m.Path()).Parse()
	require.NoError(t, err)
	assert.Equal(t, "-100", reloaded.Groups["Acme"])
}

func TestUpdateDoesNotMutateCurrentOnValidationError(t *testing.T) {
	m := newTestManager(t, "config.json", "")
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	_, err = m.Update(context.Background(), func(cfg *Config) error {
		cfg.Groups["../escape"] = "-1"
		return nil
	})
	require.Error(t, err)
	assert.NotContains(t, m.Get().Groups, "../escape")
}

func TestValidateGroupName(t *testing.T) {
	for _, bad := range []string{"", " ", ".", "..", "a/b", `a\b`} {
		assert.Error(t, ValidateGroupName(bad), bad)
	}
	assert.NoError(t, ValidateGroupName("Condomínio Azul"))
}

func TestSummarizeConfigChangeHidesTokens(t *testing.T) {
	a := Default("/docs", "/data")
	b := a.Clone()
	b.Telegram.Token = "secret"
	b.Groups["Acme"] = "-1"

	sections, _ := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"groups", "telegram"}, sections)
	assert.Equal(t, []string{"telegram"}, RestartRequired(sections))
}
