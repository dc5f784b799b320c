// Package observability exposes Prometheus metrics and the ops HTTP server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States lists every session state label so the gauge always has one series
// per state with exactly one set to 1.
var States = []string{"disconnected", "connecting", "connected", "error"}

// Metrics holds the bot's collectors on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	sessionState  *prometheus.GaugeVec
	reconnects    prometheus.Counter
	sends         *prometheus.CounterVec
	deleted       *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runFiles      *prometheus.CounterVec
	watcherNotify prometheus.Counter
	pendingFiles  prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		sessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boletobot_session_state",
			Help: "Current session state (1 for the active state)",
		}, []string{"state"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "boletobot_session_reconnects_total",
			Help: "Scheduled reconnection attempts",
		}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boletobot_sends_total",
			Help: "Outbound sends by kind and result",
		}, []string{"kind", "result"}),
		deleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boletobot_files_deleted_total",
			Help: "Files removed after delivery",
		}, []string{"kind"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "boletobot_send_run_duration_seconds",
			Help:    "Send run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		runFiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boletobot_send_run_files_total",
			Help: "Files handled by send runs by outcome",
		}, []string{"outcome"}),
		watcherNotify: f.NewCounter(prometheus.CounterOpts{
			Name: "boletobot_watcher_notifications_total",
			Help: "Debounced folder change notifications",
		}),
		pendingFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "boletobot_pending_files",
			Help: "Documents waiting in mapped group folders at the last scan",
		}),
	}
	m.SetSessionState("disconnected")
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SetSessionState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Reconnect() { m.reconnects.Inc() }

func (m *Metrics) Send(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Deleted(kind string) { m.deleted.WithLabelValues(kind).Inc() }

func (m *Metrics) RunFinished(took time.Duration, sent, failed int) {
	m.runDuration.Observe(took.Seconds())
	m.runFiles.WithLabelValues("sent").Add(float64(sent))
	m.runFiles.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) WatcherNotify() { m.watcherNotify.Inc() }

func (m *Metrics) SetPending(n int) { m.pendingFiles.Set(float64(n)) }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
