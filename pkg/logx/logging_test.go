package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "INFO").With(String("comp", "sender"))

	log.Debug("hidden")
	log.Info("send run complete",
		Int("sent", 3),
		Bool("ok", true),
		Duration("took", 1500*time.Millisecond),
		Strings("groups", []string{"A", "B"}),
		Err(nil),
	)
	log.Warn("send failed", Err(errors.New("boom")), String("comp", "override"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "sender", lines[0]["comp"])
	assert.Equal(t, float64(3), lines[0]["sent"])
	assert.Equal(t, true, lines[0]["ok"])
	assert.NotContains(t, lines[0], zerolog.ErrorFieldName)
	assert.Contains(t, lines[0]["caller"], "logging_test.go:")

	assert.Equal(t, "boom", lines[1][zerolog.ErrorFieldName])
	assert.Equal(t, "override", lines[1]["comp"])
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() {
		log.With(String("a", "b")).Error("nothing")
	})
	assert.False(t, Nop().IsZero())
}

func TestServiceApplySwitchesSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "ERROR", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("dropped")
	log.Error("kept", String("k", "v"))
	assert.False(t, log.Enabled(LevelInfo))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug))
	log.Debug("now visible")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)
	assert.NotContains(t, text, "dropped")
	assert.Contains(t, text, `"kept"`)
	assert.Contains(t, text, `"now visible"`)
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "trace", "DEBUG", " info ", "warning", "ERROR"} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("loud"))
}
