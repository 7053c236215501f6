// Package metrics exposes Prometheus instrumentation for ingestion and
// retrieval. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	IngestJobs       *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	IngestQueueDepth prometheus.Gauge
	StepDuration     *prometheus.HistogramVec
	ChunkingSource   *prometheus.CounterVec
	ChunksCreated    prometheus.Counter
	OCRImages        *prometheus.CounterVec
	EmbeddingBatches *prometheus.CounterVec

	// Retrieval metrics
	AnswerRequests  *prometheus.CounterVec
	AnswerTokens    prometheus.Counter
	RetrievedChunks prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studykb_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),

		IngestJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_ingest_jobs_total",
				Help: "Ingestion jobs by final status",
			},
			[]string{"status"},
		),
		IngestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "studykb_ingest_duration_seconds",
				Help:    "Wall time of one ingestion job",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		IngestQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "studykb_ingest_queue_depth",
				Help: "Documents waiting for an ingestion worker",
			},
		),
		StepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studykb_ingest_step_duration_seconds",
				Help:    "Wall time of one ingestion step",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"step"},
		),
		ChunkingSource: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_chunking_total",
				Help: "Chunking runs by where the boundaries came from",
			},
			[]string{"source"},
		),
		ChunksCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "studykb_chunks_created_total",
				Help: "Chunks persisted by ingestion",
			},
		),
		OCRImages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_ocr_images_total",
				Help: "Embedded images sent to OCR by result",
			},
			[]string{"result"},
		),
		EmbeddingBatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_embedding_batches_total",
				Help: "Embedding requests by result",
			},
			[]string{"result"},
		),

		AnswerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studykb_answer_requests_total",
				Help: "Question answering requests by outcome",
			},
			[]string{"outcome"},
		),
		AnswerTokens: f.NewCounter(
			prometheus.CounterOpts{
				Name: "studykb_answer_tokens_total",
				Help: "Model tokens spent on answers",
			},
		),
		RetrievedChunks: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "studykb_retrieved_chunks",
				Help:    "Chunks placed into one answer prompt",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
			},
		),

		gatherer: reg,
	}
}

func (m *Metrics) IngestFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.IngestQueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) Chunked(source string, chunks int) {
	if m == nil {
		return
	}
	m.ChunkingSource.WithLabelValues(source).Inc()
	m.ChunksCreated.Add(float64(chunks))
}

func (m *Metrics) OCRImage(ok bool) {
	if m == nil {
		return
	}
	m.OCRImages.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) EmbeddingBatch(ok bool) {
	if m == nil {
		return
	}
	m.EmbeddingBatches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Answered(outcome string, chunks, tokens int) {
	if m == nil {
		return
	}
	m.AnswerRequests.WithLabelValues(outcome).Inc()
	m.RetrievedChunks.Observe(float64(chunks))
	if tokens > 0 {
		m.AnswerTokens.Add(float64(tokens))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
