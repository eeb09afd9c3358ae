// Package metrics provides the Prometheus instrumentation shared by the
// router, file, and user services. Every recording method nil-checks its
// receiver so a component that is never handed a *Metrics (nil is the
// default) pays zero overhead, mirroring the optional-metrics convention
// the rest of this codebase uses for pluggable collaborators.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	enabled  bool
)

// Init creates the process-wide registry. Called once at startup from each
// cmd/* binary; Init(false) (or never calling it) leaves metrics
// disabled and every New report a nil *Metrics.
func Init(on bool) *prometheus.Registry {
	enabled = on
	if !on {
		return nil
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return registry
}

// IsEnabled reports whether Init(true) has run.
func IsEnabled() bool { return enabled }

// Registry returns the process registry, or nil if metrics are disabled.
func Registry() *prometheus.Registry { return registry }

// Serve runs a /metrics HTTP endpoint on addr for reg until ctx is
// cancelled. Each cmd/* binary calls this in its own goroutine when
// metrics are enabled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Metrics bundles the counters and gauges exercised by the router, file,
// and user services. A nil *Metrics is always a valid receiver.
type Metrics struct {
	sessionsActive     prometheus.Gauge
	sessionsCreated    prometheus.Counter
	sessionsConflicts  *prometheus.CounterVec
	sessionsTimedOut   prometheus.Counter
	fileOperations     *prometheus.CounterVec
	fileOperationBytes *prometheus.CounterVec
	tokensIssued       *prometheus.CounterVec
	authFailures       prometheus.Counter
}

// New builds a Metrics bound to reg, or returns nil if reg is nil — the
// signal every caller uses to skip instrumentation entirely.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "vgshost_router_sessions_active",
			Help: "Number of sessions currently in the Running state.",
		}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "vgshost_router_sessions_created_total",
			Help: "Total sessions successfully started.",
		}),
		sessionsConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgshost_router_sessions_conflicts_total",
			Help: "Session creation attempts rejected or resolved by conflict arbitration.",
		}, []string{"outcome"}), // "rejected", "evicted"
		sessionsTimedOut: f.NewCounter(prometheus.CounterOpts{
			Name: "vgshost_router_sessions_timed_out_total",
			Help: "Sessions stopped by the idle-timeout sweep.",
		}),
		fileOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgshost_fileservice_operations_total",
			Help: "File service commands dispatched, by verb and outcome.",
		}, []string{"verb", "outcome"}), // outcome: "ok", "error"
		fileOperationBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgshost_fileservice_bytes_total",
			Help: "Bytes moved through GET/PUT, by direction.",
		}, []string{"direction"}), // "read", "write"
		tokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgshost_userservice_tokens_issued_total",
			Help: "Tokens returned by MAKETOKEN/RESETTOKEN (new or reused), by type.",
		}, []string{"type"}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "vgshost_userservice_login_failures_total",
			Help: "LOGIN attempts rejected for bad credentials.",
		}),
	}
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) RecordSessionConflict(outcome string) {
	if m == nil {
		return
	}
	m.sessionsConflicts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSessionTimeout() {
	if m == nil {
		return
	}
	m.sessionsTimedOut.Inc()
}

func (m *Metrics) RecordFileOp(verb string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fileOperations.WithLabelValues(verb, outcome).Inc()
}

func (m *Metrics) RecordFileBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fileOperationBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
