package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	uploadRequestsTotal  prometheus.Counter
	uploadRejectedTotal  *prometheus.CounterVec
	uploadLatencySeconds prometheus.Histogram

	cacheRequestsTotal      *prometheus.CounterVec
	questionsGeneratedTotal *prometheus.CounterVec
	answersGradedTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors. Safe to call from
// every accessor; registration happens once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		uploadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Total number of deck upload attempts.",
		})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Deck uploads rejected before ingestion, by reason.",
		}, []string{"reason"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "End-to-end latency of successful deck ingestions.",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		})

		cacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache lookups by cache name and outcome.",
		}, []string{"cache", "outcome"})

		questionsGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questions_generated_total",
			Help: "Questions produced by the generator, by kind.",
		}, []string{"kind"})

		answersGradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answers_graded_total",
			Help: "Graded answer attempts, by grade value.",
		}, []string{"grade"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			uploadRequestsTotal,
			uploadRejectedTotal,
			uploadLatencySeconds,
			cacheRequestsTotal,
			questionsGeneratedTotal,
			answersGradedTotal,
		)
	})
}

// HTTPRequests exposes the counter for served requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// HTTPLatency exposes the latency histogram for served requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// UploadRequests exposes the counter for deck upload attempts.
func UploadRequests() prometheus.Counter {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected exposes the counter for rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency exposes the ingestion latency histogram.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}

// CacheRequests exposes the cache lookup counter.
func CacheRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return cacheRequestsTotal
}

// QuestionsGenerated exposes the generated question counter.
func QuestionsGenerated() *prometheus.CounterVec {
	RegisterMetrics()
	return questionsGeneratedTotal
}

// AnswersGraded exposes the graded attempt counter.
func AnswersGraded() *prometheus.CounterVec {
	RegisterMetrics()
	return answersGradedTotal
}
