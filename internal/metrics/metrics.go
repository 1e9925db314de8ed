// Package metrics exposes Prometheus instruments for the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codeoverlay"

// Edit modes.
const (
	EditIncremental = "incremental"
	EditFull        = "full"
	EditAmbiguous   = "ambiguous"
)

// Metrics holds every instrument on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// edits counts applied edits.
	// Labels: mode (incremental, full, ambiguous)
	edits *prometheus.CounterVec

	// reparse measures parse time.
	// Labels: mode (incremental, full)
	reparse *prometheus.HistogramVec

	// annotationChanges counts delta entries sent to the overlay.
	// Labels: op (addition, update, removal)
	annotationChanges *prometheus.CounterVec

	// jobs counts finished runner jobs.
	// Labels: type (annotation, suggestions), result (completed, failed, cancelled)
	jobs *prometheus.CounterVec

	// suggestionActions counts select, dismiss and apply requests.
	// Labels: action, outcome (ok or the error code)
	suggestionActions *prometheus.CounterVec

	// cacheLookups counts analysis cache lookups.
	// Labels: result (hit, miss)
	cacheLookups *prometheus.CounterVec

	// messages counts protocol messages.
	// Labels: direction (in, out), type
	messages *prometheus.CounterVec

	analysis      prometheus.Histogram
	documentsOpen prometheus.Gauge
}

// New creates the instruments on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		edits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "document",
			Name:      "edits_total",
			Help:      "Edits applied to tracked documents",
		}, []string{"mode"}),
		reparse: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "syntax",
			Name:      "parse_duration_seconds",
			Help:      "Tree-sitter parse latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"mode"}),
		annotationChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotations",
			Name:      "changes_total",
			Help:      "Annotation delta entries by operation",
		}, []string{"op"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Runner jobs by type and result",
		}, []string{"type", "result"}),
		suggestionActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestions",
			Name:      "actions_total",
			Help:      "Suggestion actions by outcome",
		}, []string{"action", "outcome"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "cache_lookups_total",
			Help:      "Analysis cache lookups by result",
		}, []string{"result"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Protocol messages by direction and type",
		}, []string{"direction", "type"}),
		analysis: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analyzer call latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		documentsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "documents_open",
			Help:      "Editor windows currently tracked",
		}),
	}
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Edit(mode string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(mode).Inc()
}

// Parse records one parse; full distinguishes a from-scratch parse.
func (m *Metrics) Parse(full bool, d time.Duration) {
	if m == nil {
		return
	}
	mode := EditIncremental
	if full {
		mode = EditFull
	}
	m.reparse.WithLabelValues(mode).Observe(d.Seconds())
}

// AnnotationDelta records the sizes of one annotation delta.
func (m *Metrics) AnnotationDelta(additions, updates, removals int) {
	if m == nil {
		return
	}
	m.annotationChanges.WithLabelValues("addition").Add(float64(additions))
	m.annotationChanges.WithLabelValues("update").Add(float64(updates))
	m.annotationChanges.WithLabelValues("removal").Add(float64(removals))
}

func (m *Metrics) Job(jobType, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) SuggestionAction(action, outcome string) {
	if m == nil {
		return
	}
	m.suggestionActions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Analysis(d time.Duration) {
	if m == nil {
		return
	}
	m.analysis.Observe(d.Seconds())
}

// Message records one protocol message; direction is "in" or "out".
func (m *Metrics) Message(direction, msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) DocumentOpened() {
	if m == nil {
		return
	}
	m.documentsOpen.Inc()
}

func (m *Metrics) DocumentClosed() {
	if m == nil {
		return
	}
	m.documentsOpen.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics endpoint listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
