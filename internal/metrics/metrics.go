// Package metrics provides Prometheus metrics for the projectfiles server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Upload metrics
	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projectfiles_upload_bytes_total",
			Help: "Total bytes written to the object store by uploads",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_uploads_total",
			Help: "Uploads by outcome (success, error, cancelled, orphaned)",
		},
		[]string{"status"},
	)

	uploadsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_uploads_pending",
			Help: "Uploads currently in flight",
		},
	)

	// Virtual file system metrics
	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_batch_items_total",
			Help: "Records processed by cascading operations",
		},
		[]string{"op", "status"},
	)

	folderReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_folder_reconcile_total",
			Help: "Folder creation outcomes by reconciliation branch",
		},
		[]string{"outcome"},
	)

	listingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "projectfiles_listing_duration_seconds",
			Help:    "Time to derive one directory listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	listingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_listing_records",
			Help: "File records scanned by the most recent listing",
		},
	)

	selectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_selections_active",
			Help: "Live selection handles",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_sse_connections_active",
			Help: "Number of active SSE subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_sse_events_total",
			Help: "Events published to SSE subscribers",
		},
		[]string{"type"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projectfiles_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Object store metrics
	objectOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projectfiles_object_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	objectOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projectfiles_object_operations_total",
			Help: "Total object store operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records an upload outcome. Bytes are counted whenever the
// object write itself succeeded.
func RecordUpload(status string, bytes int64) {
	uploadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// SetUploadsPending sets the in-flight upload gauge.
func SetUploadsPending(n int) {
	uploadsPending.Set(float64(n))
}

// RecordBatchItem records the outcome of one record in a cascading operation.
func RecordBatchItem(op string, success bool) {
	batchItemsTotal.WithLabelValues(op, statusLabel(success)).Inc()
}

// RecordFolderReconcile records which reconciliation branch a folder
// creation took.
func RecordFolderReconcile(outcome string) {
	folderReconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordListing records the cost of deriving a directory listing.
func RecordListing(duration time.Duration, records int) {
	listingDuration.Observe(duration.Seconds())
	listingRecords.Set(float64(records))
}

// SetSelectionsActive sets the live selection handle gauge.
func SetSelectionsActive(n int) {
	selectionsActive.Set(float64(n))
}

// SetSSEConnectionsActive sets the number of SSE subscribers.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// RecordSSEEvent records a published event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordObjectOperation records an object store operation.
func RecordObjectOperation(backend, operation string, duration time.Duration, success bool) {
	objectOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	objectOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern so path values do not explode
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
