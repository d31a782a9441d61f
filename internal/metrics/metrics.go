// Package metrics exposes Prometheus metrics for the masking pipeline.
//
// Metrics live on a private registry so tests and embedders never collide
// with the global default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"piimask/internal/sanitizer"
)

const namespace = "piimask"

// Metrics:
//   - piimask_requests_total: requests by endpoint and HTTP status
//   - piimask_entities_masked_total: accepted spans by classification
//   - piimask_spans_dropped_total: discarded candidates by reason
//   - piimask_stage_duration_seconds: pipeline stage latency
//   - piimask_ner_errors_total: NER failures by kind
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	entitiesMasked *prometheus.CounterVec
	spansDropped   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	nerErrors      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by endpoint and status code",
			},
			[]string{"endpoint", "status"},
		),
		entitiesMasked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_masked_total",
				Help:      "Total number of spans replaced by a placeholder",
			},
			[]string{"classification"},
		),
		spansDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_dropped_total",
				Help:      "Total number of candidate spans discarded during reconciliation",
			},
			[]string{"reason"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of masking pipeline stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
			[]string{"stage"},
		),
		nerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ner_errors_total",
				Help:      "Total number of NER detector failures by kind",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.entitiesMasked,
		m.spansDropped,
		m.stageDuration,
		m.nerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RecordNERError counts a NER outcome that is a failure. ok, disabled and
// skipped outcomes are ignored.
func (m *Metrics) RecordNERError(kind string) {
	m.nerErrors.WithLabelValues(kind).Inc()
}

// ObserveStage implements sanitizer.Observer.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveResult implements sanitizer.Observer.
func (m *Metrics) ObserveResult(res *sanitizer.Result) {
	if res == nil {
		return
	}
	for _, s := range res.Spans {
		m.entitiesMasked.WithLabelValues(s.Classification).Inc()
	}
	for _, d := range res.Dropped {
		m.spansDropped.WithLabelValues(string(d.Reason)).Inc()
	}
	if isNERFailure(res.NEROutcome) {
		m.RecordNERError(res.NEROutcome)
	}
}

var _ sanitizer.Observer = (*Metrics)(nil)
