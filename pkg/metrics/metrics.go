package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Accountant metrics, labeled by memory mode ("on_heap" / "off_heap")
	StorageUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ember_storage_used_bytes",
			Help: "Bytes currently held by resident storage reservations",
		},
		[]string{"mode"},
	)

	UnrollUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ember_unroll_used_bytes",
			Help: "Bytes currently held by in-flight unroll reservations",
		},
		[]string{"mode"},
	)

	MaxTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ember_max_total_bytes",
			Help: "Configured ceiling for a memory mode's pool",
		},
		[]string{"mode"},
	)

	// Admission / eviction counters
	BlocksAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_blocks_admitted_total",
			Help: "Total number of blocks successfully admitted to the store",
		},
		[]string{"mode", "variant"},
	)

	AdmissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_admission_rejected_total",
			Help: "Total number of puts rejected, by reason",
		},
		[]string{"mode", "reason"},
	)

	BlocksEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_blocks_evicted_total",
			Help: "Total number of blocks evicted to free space",
		},
		[]string{"mode"},
	)

	EvictionBytesFreedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_eviction_bytes_freed_total",
			Help: "Total bytes freed by eviction",
		},
		[]string{"mode"},
	)

	PartialUnrollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_partial_unrolls_total",
			Help: "Total number of put_iterator calls that returned a Partial handle",
		},
		[]string{"mode", "variant"},
	)

	UnrollReacquiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_unroll_reacquires_total",
			Help: "Total number of incremental unroll reservation requests issued while materializing a block",
		},
		[]string{"mode", "variant"},
	)

	// Latency
	EvictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ember_eviction_duration_seconds",
			Help:    "Time taken by evict_to_free, including external handler calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	UnrollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_unroll_duration_seconds",
			Help:    "Time taken to fully materialize a put_iterator call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(StorageUsedBytes)
	prometheus.MustRegister(UnrollUsedBytes)
	prometheus.MustRegister(MaxTotalBytes)
	prometheus.MustRegister(BlocksAdmittedTotal)
	prometheus.MustRegister(AdmissionRejectedTotal)
	prometheus.MustRegister(BlocksEvictedTotal)
	prometheus.MustRegister(EvictionBytesFreedTotal)
	prometheus.MustRegister(PartialUnrollsTotal)
	prometheus.MustRegister(UnrollReacquiresTotal)
	prometheus.MustRegister(EvictionDuration)
	prometheus.MustRegister(UnrollDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
