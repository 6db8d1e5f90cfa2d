package pool

import "github.com/go-i2p/respool/lib/metrics"

// Pool metrics, registered with the default registry and served by
// metrics.Handler.
var (
	ResourcesMax   = metrics.NewGauge("respool_resources_max", "Configured maximum pool size")
	ResourcesFree  = metrics.NewGauge("respool_resources_free", "Idle resources available for checkout")
	ResourcesTaken = metrics.NewGauge("respool_resources_taken", "Resources currently checked out")
	Waiters        = metrics.NewGauge("respool_waiters", "Checkouts waiting for a release")

	CheckoutTotal           = metrics.NewCounter("respool_checkout_total", "Checkout attempts")
	CheckoutSuccessTotal    = metrics.NewCounter("respool_checkout_success_total", "Successful checkouts")
	CheckoutFailedTotal     = metrics.NewCounter("respool_checkout_failed_total", "Failed checkouts")
	ReleaseTotal            = metrics.NewCounter("respool_release_total", "Handle releases")
	ValidationFailuresTotal = metrics.NewCounter("respool_validation_failures_total", "Resources that failed a validation probe")
	EvictionsTotal          = metrics.NewCounter("respool_evictions_total", "Idle resources evicted by the reaper")

	CheckoutLatency = metrics.NewHistogram("respool_checkout_duration_seconds", "Checkout latency in seconds", metrics.DefaultLatencyBuckets)
)

// UpdateMetrics publishes a stats snapshot to the gauge metrics.
// Counters are incremented inline by the pool and need no snapshot.
func UpdateMetrics(s Stats) {
	ResourcesMax.Set(int64(s.MaxSize))
	ResourcesFree.Set(int64(s.NumFree))
	ResourcesTaken.Set(int64(s.NumTaken))
	Waiters.Set(int64(s.NumWaiting))
}
