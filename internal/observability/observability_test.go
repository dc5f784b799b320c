package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boletobot/pkg/logx"
)

func TestMetricsSessionStateIsExclusive(t *testing.T) {
	m := NewMetrics()
	m.SetSessionState("connected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("disconnected")))

	m.SetSessionState("error")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("error")))
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.Send("text", nil)
	m.Send("document", nil)
	m.Send("document", errors.New("boom"))
	m.Deleted("copy")
	m.Reconnect()
	m.RunFinished(3*time.Second, 4, 1)
	m.WatcherNotify()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("document", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("document", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deleted.WithLabelValues("copy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.runFiles.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watcherNotify))
}

func get(t *testing.T, h http.Handler, target, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	m := NewMetrics()
	m.Send("text", nil)
	s := NewServer(ServerConfig{}, m, func() any { return map[string]string{"state": "connected"} }, logx.Nop())
	h := s.Handler(ServerConfig{})

	rec := get(t, h, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boletobot_sends_total")

	rec = get(t, h, "/status", "")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"state":"connected"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", "").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(ServerConfig{Pprof: true}), "/debug/pprof/", "").Code)
}

func TestHandlerAuth(t *testing.T) {
	s := NewServer(ServerConfig{}, nil, nil, logx.Nop())
	h := s.Handler(ServerConfig{Token: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/status?token=nope", "s3cret").Code)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, NewMetrics(), nil, logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, "", s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr("nonsense"))
}
