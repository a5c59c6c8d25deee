/*
Package metrics defines and registers the Prometheus metrics exposed by the
block store.

Gauges track the Accountant's live counters per memory mode (storage used,
unroll used, configured ceiling); counters track admissions, rejections,
evictions, and partial unrolls; histograms track eviction and unroll latency.
All metrics are registered at package init, following this codebase's existing
convention of a global Prometheus registry with no runtime registration.

Updating a gauge:

	metrics.StorageUsedBytes.WithLabelValues("on_heap").Set(float64(used))

Timing an operation:

	timer := metrics.NewTimer()
	// ... evict_to_free ...
	timer.ObserveDuration(metrics.EvictionDuration)

Metrics are exposed over HTTP via Handler(), served by cmd/ember's serve
subcommand at /metrics.
*/
package metrics
