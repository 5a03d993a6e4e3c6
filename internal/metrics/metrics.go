package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reportsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sachet",
			Name:      "reports_saved_total",
			Help:      "Hazard reports persisted to the local store.",
		},
	)

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sachet",
			Name:      "report_uploads_total",
			Help:      "Upload attempts by result.",
		},
		[]string{"result"},
	)

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sachet",
			Name:      "sync_passes_total",
			Help:      "Completed sync passes by outcome.",
		},
		[]string{"outcome"},
	)

	pendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sachet",
			Name:      "pending_reports",
			Help:      "Reports currently awaiting upload.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sachet",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reportsSaved, uploads, syncPasses, pendingDepth, httpRequests)
	})
}

// IncReportSaved counts a successful local save.
func IncReportSaved() {
	reportsSaved.Inc()
}

// IncUpload counts an upload attempt with result "success" or "failure".
func IncUpload(result string) {
	uploads.WithLabelValues(result).Inc()
}

// IncSyncPass counts a finished pass with outcome "success", "partial",
// "skipped" or "offline".
func IncSyncPass(outcome string) {
	syncPasses.WithLabelValues(outcome).Inc()
}

// SetPendingDepth publishes the current pending queue depth.
func SetPendingDepth(count int) {
	pendingDepth.Set(float64(count))
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
