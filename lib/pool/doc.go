// Package pool provides a generic manager for expensive-to-create, stateful
// resources such as database or I2P stream connections.
//
// Callers check out a ready-to-use resource, use it, and release it back;
// the pool handles creation, warm reuse, idle eviction, validation caching,
// and recovery when a resource silently dies. Each checked-out resource is
// exclusively owned by one caller until its handle is released.
//
// The pool supports:
//   - Configurable minimum and maximum size
//   - Idle timeout with background reaping down to the minimum
//   - Factory lifecycle hooks (create, activate, passivate, validate, destroy)
//   - A validation probe built once per pool and cached across checkouts
//   - Context-aware checkout with timeout and FIFO waiter fairness
//   - Metrics for pool utilization
//
// # Basic Usage
//
//	factory := &pool.Funcs[net.Conn]{
//	    CreateFunc: func(ctx context.Context) (net.Conn, error) {
//	        return net.Dial("tcp", "localhost:8080")
//	    },
//	    DestroyFunc: func(c net.Conn) error { return c.Close() },
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MaxSize = 10
//	cfg.MinSize = 2
//
//	p, err := pool.New[net.Conn](factory, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	h, err := p.Checkout(ctx)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
//	conn, err := h.Resource()
//	// Use conn...
//
// # Validation
//
// When a factory implements BuildProbe and Validate, resources are
// re-validated before checkout once their last validation is older than
// Config.ValidationInterval. The probe (for example a "SELECT 1" statement)
// is built at most once per pool and reused for every validation.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - respool_resources_max: Maximum pool size
//   - respool_resources_free: Resources idle in the pool
//   - respool_resources_taken: Resources checked out
//   - respool_waiters: Checkouts waiting for a free slot
//   - respool_checkout_total: Total checkout attempts
//   - respool_checkout_success_total: Successful checkouts
//   - respool_checkout_failed_total: Failed checkouts
//   - respool_release_total: Handle releases
//   - respool_validation_failures_total: Validation failures
//   - respool_evictions_total: Idle evictions
//   - respool_checkout_duration_seconds: Checkout latency
package pool
