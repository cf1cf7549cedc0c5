// Package metrics exposes Prometheus collectors for ingestion and answering.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry *prometheus.Registry

	records   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	chunks    *prometheus.CounterVec
	ingests   *prometheus.HistogramVec
	answers   *prometheus.CounterVec
	latency   prometheus.Histogram
	retrieved prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gxa",
			Name:      "documents_loaded_total",
			Help:      "Records produced by source loaders.",
		}, []string{"loader"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gxa",
			Name:      "source_failures_total",
			Help:      "Sources skipped because they could not be fetched or parsed.",
		}, []string{"loader"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gxa",
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector index.",
		}, []string{"mode"}),
		ingests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gxa",
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gxa",
			Name:      "answers_total",
			Help:      "Answered questions by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gxa",
			Name:      "answer_duration_seconds",
			Help:      "Time to retrieve context and generate an answer.",
			Buckets:   prometheus.DefBuckets,
		}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gxa",
			Name:      "retrieved_chunks",
			Help:      "Chunks retrieved per question.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
	r.registry.MustRegister(r.records, r.failures, r.chunks, r.ingests, r.answers, r.latency, r.retrieved)
	return r
}

func (r *Recorder) ObserveLoad(loader string, records, failures int) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(loader).Add(float64(records))
	r.failures.WithLabelValues(loader).Add(float64(failures))
}

func (r *Recorder) ObserveIndexed(mode string, chunks int, took time.Duration) {
	if r == nil {
		return
	}
	r.chunks.WithLabelValues(mode).Add(float64(chunks))
	r.ingests.WithLabelValues(mode).Observe(took.Seconds())
}

// ObserveAnswer records one composer call. outcome is "ok" or an error class.
func (r *Recorder) ObserveAnswer(outcome string, retrieved int, took time.Duration) {
	if r == nil {
		return
	}
	r.answers.WithLabelValues(outcome).Inc()
	r.latency.Observe(took.Seconds())
	if outcome == "ok" {
		r.retrieved.Observe(float64(retrieved))
	}
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
