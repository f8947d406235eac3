// Package metrics holds the Prometheus collectors shared by every stage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pipeline.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ErrorsTotal     *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	StageRuns       *prometheus.CounterVec
	CardsCut        *prometheus.CounterVec
	OutputsTotal    *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_http_requests_total",
			Help: "Total HTTP requests issued, by payload kind.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pnp_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_http_errors_total",
			Help: "Total number of HTTP failures by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_cache_lookups_total",
			Help: "Content-addressed cache lookups by result (memory, disk, miss).",
		},
		[]string{"result"},
	)
	toolInvocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_tool_invocations_total",
			Help: "External tool operations by tool and operation.",
		},
		[]string{"tool", "op"},
	)
	stageRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_stage_runs_total",
			Help: "Pipeline stages by outcome (built, skipped).",
		},
		[]string{"stage", "outcome"},
	)
	cardsCut := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_cards_cut_total",
			Help: "Card images written per product.",
		},
		[]string{"product"},
	)
	outputs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnp_outputs_total",
			Help: "Composed outputs by kind (document, mosaic).",
		},
		[]string{"kind"},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, cacheLookups, toolInvocations, stageRuns, cardsCut, outputs)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ErrorsTotal:     errorsTotal,
		CacheLookups:    cacheLookups,
		ToolInvocations: toolInvocations,
		StageRuns:       stageRuns,
		CardsCut:        cardsCut,
		OutputsTotal:    outputs,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache records a cache lookup result.
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncTool records one external tool operation.
func (m *Metrics) IncTool(tool, op string) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, op).Inc()
}

// IncStage records a stage outcome.
func (m *Metrics) IncStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(stage, outcome).Inc()
}

// AddCards adds n cut card images for product.
func (m *Metrics) AddCards(product string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CardsCut.WithLabelValues(product).Add(float64(n))
}

// IncOutput records one composed output.
func (m *Metrics) IncOutput(kind string) {
	if m == nil {
		return
	}
	m.OutputsTotal.WithLabelValues(kind).Inc()
}

// Snapshot sums every counter family by metric name and by each
// `name{label=value}` pair. Histograms report their sample count.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if m == nil {
		return out
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				out[family.GetName()] += counter.GetValue()
				for _, label := range metric.GetLabel() {
					out[family.GetName()+"{"+label.GetName()+"="+label.GetValue()+"}"] += counter.GetValue()
				}
			}
			if histogram := metric.GetHistogram(); histogram != nil {
				out[family.GetName()] += float64(histogram.GetSampleCount())
			}
		}
	}
	return out
}
