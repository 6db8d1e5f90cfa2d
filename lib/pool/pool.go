package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/resilience"
	"github.com/go-i2p/respool/lib/scheduler"
)

// waiter is a checkout request queued while the pool is saturated.
// The ready channel holds at most one wake token; exactly one of
// {wake, timeout} wins per waiter.
type waiter struct {
	ready chan struct{}
}

func (w *waiter) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Pool manages a bounded set of reusable resources created by a Factory.
// All mutable pool state is guarded by one mutex; free, taken and waiters
// are never exposed to callers.
type Pool[T any] struct {
	factory Factory[T]
	cfg     Config

	mu       sync.Mutex
	free     []*pooledObject[T] // most recently returned last
	taken    map[*pooledObject[T]]struct{}
	waiters  []*waiter
	reserved int // in-flight creations, counted against MaxSize
	closed   bool

	probeOnce sync.Once
	probe     any
	probeErr  error

	sched    *scheduler.Scheduler
	reapTask *scheduler.Task

	createBackoff *resilience.Backoff
	createLimit   *resilience.Limiter
	replenishing  atomic.Bool

	// now is replaceable in tests to simulate time.
	now func() time.Time

	nextID uint64

	// Counters
	checkoutCount   uint64
	checkoutSuccess uint64
	checkoutFailed  uint64
	releaseCount    uint64
	validationFails uint64
	createdCount    uint64
	destroyedCount  uint64
	evictedCount    uint64
	probeBuilds     uint64
}

// New creates a pool driven by the shared default scheduler.
// MinSize resources are created eagerly, best-effort.
func New[T any](factory Factory[T], cfg Config) (*Pool[T], error) {
	return NewWithScheduler(factory, cfg, scheduler.Default())
}

// NewWithScheduler creates a pool whose reap task runs on the given
// scheduler. The pool never stops the scheduler; it only cancels its own
// task on Close, so many pools can share one scheduler goroutine.
func NewWithScheduler[T any](factory Factory[T], cfg Config, sched *scheduler.Scheduler) (*Pool[T], error) {
	if factory == nil {
		return nil, apperrors.ErrFactoryRequired
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		factory:       factory,
		cfg:           cfg,
		free:          make([]*pooledObject[T], 0, cfg.MaxSize),
		taken:         make(map[*pooledObject[T]]struct{}, cfg.MaxSize),
		sched:         sched,
		createBackoff: resilience.NewBackoff(cfg.CreateBackoff),
		now:           time.Now,
	}
	if cfg.CreateRate > 0 {
		burst := cfg.CreateBurst
		if burst < 1 {
			burst = 1
		}
		p.createLimit = resilience.NewLimiter(cfg.CreateRate, burst)
	}
	p.reapTask = sched.Every(cfg.reapInterval(), p.reapTick)

	if cfg.MinSize > 0 {
		p.replenish()
	}

	log.WithField("maxSize", cfg.MaxSize).WithField("minSize", cfg.MinSize).WithField("idleTimeout", cfg.IdleTimeout).Debug("pool created")
	return p, nil
}

// Checkout leases one resource to the caller. It reuses the most recently
// returned free resource, creates a new one while under MaxSize, or waits
// FIFO for a release. The wait is bounded by the context deadline, or by
// Config.CheckoutTimeout when the context has none.
func (p *Pool[T]) Checkout(ctx context.Context) (*Handle[T], error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CheckoutTimeout)
		defer cancel()
	}
	return p.checkout(ctx, true)
}

// TryCheckout is like Checkout but never waits: a saturated pool fails
// immediately with an exhausted error.
func (p *Pool[T]) TryCheckout(ctx context.Context) (*Handle[T], error) {
	return p.checkout(ctx, false)
}

func (p *Pool[T]) checkout(ctx context.Context, wait bool) (*Handle[T], error) {
	atomic.AddUint64(&p.checkoutCount, 1)
	CheckoutTotal.Inc()
	timer := metrics.NewTimer(CheckoutLatency)
	defer timer.ObserveDuration()

	var lastErr error
	for attempt := 0; attempt < p.cfg.retryBudget(); attempt++ {
		obj, reused, err := p.acquire(ctx, wait)
		if err != nil {
			return nil, p.fail(err)
		}

		if err := p.prepare(obj, reused); err != nil {
			lastErr = err
			p.discard(obj)
			continue
		}

		atomic.AddUint64(&p.checkoutSuccess, 1)
		CheckoutSuccessTotal.Inc()
		return &Handle[T]{pool: p, obj: obj}, nil
	}

	return nil, p.fail(apperrors.Wrap(apperrors.CodeValidation, "checkout retries exhausted", lastErr))
}

// fail counts a failed checkout and passes the error through.
func (p *Pool[T]) fail(err error) error {
	atomic.AddUint64(&p.checkoutFailed, 1)
	CheckoutFailedTotal.Inc()
	return err
}

// acquire obtains a Taken object for the caller: from the free list, by
// creating one under the size cap, or by waiting for a release.
func (p *Pool[T]) acquire(ctx context.Context, wait bool) (obj *pooledObject[T], reused bool, err error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, false, apperrors.ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, false, checkoutErr(ctx)
		}

		// Prefer warm reuse: the most recently returned object is the
		// least likely to need re-validation.
		if n := len(p.free); n > 0 {
			obj = p.free[n-1]
			p.free = p.free[:n-1]
			if terr := obj.transition(StateTaken); terr != nil {
				log.WithError(terr).Error("free object in unexpected state")
				obj.markDestroyedLocked()
				continue
			}
			p.taken[obj] = struct{}{}
			p.mu.Unlock()
			log.WithField("obj", obj.id).Debug("reusing pooled resource")
			return obj, true, nil
		}

		if p.sizeLocked() < p.cfg.MaxSize {
			p.reserved++
			p.mu.Unlock()
			return p.create(ctx)
		}

		if !wait {
			p.mu.Unlock()
			return nil, false, apperrors.ErrPoolExhausted
		}

		w := &waiter{ready: make(chan struct{}, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		log.Debug("pool saturated, waiting for a release")
		select {
		case <-w.ready:
			p.mu.Lock()
			if ctx.Err() != nil {
				// Expired while holding the wake token; pass it on.
				p.wakeOneLocked()
				p.mu.Unlock()
				return nil, false, checkoutErr(ctx)
			}
		case <-ctx.Done():
			p.mu.Lock()
			if !p.removeWaiterLocked(w) {
				// A release signaled this waiter concurrently with the
				// timeout. The timeout wins for this caller; pass the
				// wake token on so it is not lost.
				p.wakeOneLocked()
			}
			p.mu.Unlock()
			return nil, false, checkoutErr(ctx)
		}
	}
}

// checkoutErr maps context termination onto the pool error taxonomy.
func checkoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.ErrPoolTimeout
	}
	return ctx.Err()
}

// create builds a new resource for the slot reserved by the caller.
func (p *Pool[T]) create(ctx context.Context) (*pooledObject[T], bool, error) {
	if p.createLimit != nil && !p.createLimit.Allow() {
		p.mu.Lock()
		p.reserved--
		p.wakeOneLocked()
		p.mu.Unlock()
		return nil, false, apperrors.Wrap(apperrors.CodeExhausted, "resource creation rate exceeded", apperrors.ErrPoolExhausted)
	}

	res, err := p.factory.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.reserved--
		// The reserved slot is usable again.
		p.wakeOneLocked()
		p.mu.Unlock()
		log.WithError(err).Debug("factory create failed")
		return nil, false, apperrors.Wrap(apperrors.CodeCreation, "create resource", apperrors.Join(apperrors.ErrCreation, err))
	}

	obj := newPooledObject(atomic.AddUint64(&p.nextID, 1), res, p.now())

	p.mu.Lock()
	p.reserved--
	if p.closed {
		obj.markDestroyedLocked()
		p.mu.Unlock()
		p.runDestroy(obj)
		return nil, false, apperrors.ErrPoolClosed
	}
	obj.transition(StateTaken)
	p.taken[obj] = struct{}{}
	p.mu.Unlock()

	atomic.AddUint64(&p.createdCount, 1)
	log.WithField("obj", obj.id).Debug("created new resource")
	return obj, false, nil
}

// prepare activates a reused object and validates it when its last
// validation is older than the validation interval.
func (p *Pool[T]) prepare(obj *pooledObject[T], reused bool) error {
	now := p.now()
	if reused {
		if err := p.factory.Activate(obj.res); err != nil {
			log.WithError(err).WithField("obj", obj.id).Debug("activate failed")
			return apperrors.Wrap(apperrors.CodeValidation, "activate resource", apperrors.Join(apperrors.ErrValidation, err))
		}
		obj.touchActivated(now)
	}

	if p.cfg.ValidationInterval > 0 && obj.validatedWithin(now, p.cfg.ValidationInterval) {
		return nil
	}

	probe, err := p.validationProbe()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "validation probe", apperrors.Join(apperrors.ErrValidation, err))
	}
	if err := p.factory.Validate(obj.res, probe); err != nil {
		atomic.AddUint64(&p.validationFails, 1)
		ValidationFailuresTotal.Inc()
		log.WithError(err).WithField("obj", obj.id).Debug("validation failed")
		return apperrors.Wrap(apperrors.CodeValidation, "validate resource", apperrors.Join(apperrors.ErrValidation, err))
	}
	obj.touchValidated(now)
	return nil
}

// validationProbe returns the cached probe, building it on first use.
// The factory's BuildProbe runs at most once per pool lifetime.
func (p *Pool[T]) validationProbe() (any, error) {
	p.probeOnce.Do(func() {
		atomic.AddUint64(&p.probeBuilds, 1)
		p.probe, p.probeErr = p.factory.BuildProbe()
		if p.probeErr != nil {
			log.WithError(p.probeErr).Error("building validation probe failed")
			p.probeErr = apperrors.Join(apperrors.ErrProbeUnavailable, p.probeErr)
		}
	})
	return p.probe, p.probeErr
}

// checkin returns a taken object to the pool. It is reached only through
// Handle.Release. Passivation failures destroy the resource and are
// surfaced to the releasing caller; the pool itself stays healthy.
func (p *Pool[T]) checkin(obj *pooledObject[T]) error {
	atomic.AddUint64(&p.releaseCount, 1)
	ReleaseTotal.Inc()

	perr := p.factory.Passivate(obj.res)

	p.mu.Lock()
	if _, ok := p.taken[obj]; !ok {
		p.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeInvalidHandle, "object is not checked out", apperrors.ErrInvalidHandle)
	}
	delete(p.taken, obj)

	if perr != nil {
		destroy := obj.markDestroyedLocked()
		p.wakeOneLocked()
		below := p.belowMinLocked()
		p.mu.Unlock()

		if destroy {
			p.runDestroy(obj)
		}
		if below {
			go p.replenish()
		}
		log.WithError(perr).WithField("obj", obj.id).Debug("passivate failed, resource destroyed")
		return apperrors.Wrap(apperrors.CodeInternal, "passivate resource", perr)
	}

	if p.closed {
		destroy := obj.markDestroyedLocked()
		p.mu.Unlock()
		if destroy {
			p.runDestroy(obj)
		}
		return nil
	}

	obj.transition(StateFree)
	obj.touchActivated(p.now()) // reset the idle clock
	p.free = append(p.free, obj)
	p.wakeOneLocked()
	p.mu.Unlock()

	log.WithField("obj", obj.id).Debug("resource returned to pool")
	return nil
}

// discard removes a taken object after a failed activation or validation
// and destroys it.
func (p *Pool[T]) discard(obj *pooledObject[T]) {
	p.mu.Lock()
	delete(p.taken, obj)
	destroy := obj.markDestroyedLocked()
	p.wakeOneLocked()
	below := p.belowMinLocked()
	p.mu.Unlock()

	if destroy {
		p.runDestroy(obj)
	}
	if below {
		go p.replenish()
	}
}

// runDestroy invokes the factory destroy hook outside the pool lock.
// Errors are logged and never escalate to callers.
func (p *Pool[T]) runDestroy(obj *pooledObject[T]) {
	atomic.AddUint64(&p.destroyedCount, 1)
	if err := p.factory.Destroy(obj.res); err != nil {
		log.WithError(err).WithField("obj", obj.id).Warn("destroy failed")
	}
}

// reapTick runs on the scheduler: evict idle resources down to MinSize,
// oldest idle first, then top back up toward MinSize. Eviction and
// checkout interleave at tick granularity, never mid-operation.
func (p *Pool[T]) reapTick() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var evicted []*pooledObject[T]
	if p.cfg.IdleTimeout > 0 {
		now := p.now()
		// The front of the free list is the least recently returned.
		for len(p.free) > 0 && p.sizeLocked() > p.cfg.MinSize {
			oldest := p.free[0]
			if oldest.idleFor(now) <= p.cfg.IdleTimeout {
				break
			}
			p.free = p.free[1:]
			if oldest.markDestroyedLocked() {
				evicted = append(evicted, oldest)
			}
		}
	}
	below := p.belowMinLocked()
	p.mu.Unlock()

	if len(evicted) > 0 {
		atomic.AddUint64(&p.evictedCount, uint64(len(evicted)))
		EvictionsTotal.Add(uint64(len(evicted)))
		log.WithField("evicted", len(evicted)).Debug("idle resources reaped")
		for _, obj := range evicted {
			p.runDestroy(obj)
		}
	}
	if below {
		p.replenish()
	}
}

// replenish creates resources toward MinSize. Only one replenisher runs
// at a time, and creation failures arm the backoff instead of looping.
func (p *Pool[T]) replenish() {
	if !p.replenishing.CompareAndSwap(false, true) {
		return
	}
	defer p.replenishing.Store(false)

	for {
		p.mu.Lock()
		if p.closed || !p.belowMinLocked() {
			p.mu.Unlock()
			return
		}
		p.reserved++
		p.mu.Unlock()

		if !p.createBackoff.Ready(p.now()) {
			p.unreserve()
			return
		}
		if p.createLimit != nil && !p.createLimit.Allow() {
			p.unreserve()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CheckoutTimeout)
		res, err := p.factory.Create(ctx)
		cancel()
		if err != nil {
			delay := p.createBackoff.Failure(p.now())
			p.unreserve()
			log.WithError(err).WithField("retryIn", delay.String()).Warn("replenish create failed")
			return
		}
		p.createBackoff.Reset()

		now := p.now()
		obj := newPooledObject(atomic.AddUint64(&p.nextID, 1), res, now)

		p.mu.Lock()
		p.reserved--
		if p.closed {
			obj.markDestroyedLocked()
			p.mu.Unlock()
			p.runDestroy(obj)
			return
		}
		obj.transition(StateFree)
		obj.touchActivated(now)
		p.free = append(p.free, obj)
		p.wakeOneLocked()
		p.mu.Unlock()

		atomic.AddUint64(&p.createdCount, 1)
		log.WithField("obj", obj.id).Debug("replenished pool toward min size")
	}
}

func (p *Pool[T]) unreserve() {
	p.mu.Lock()
	p.reserved--
	p.mu.Unlock()
}

// Close drains the pool: the reap task is cancelled, free resources are
// destroyed immediately, taken resources are destroyed as their handles
// are released, and every later operation fails with a closed error.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.ErrPoolClosed
	}
	p.closed = true

	var destroy []*pooledObject[T]
	for _, obj := range p.free {
		if obj.markDestroyedLocked() {
			destroy = append(destroy, obj)
		}
	}
	p.free = nil

	waiters := p.waiters
	p.waiters = nil
	task := p.reapTask
	p.mu.Unlock()

	task.Cancel()
	for _, w := range waiters {
		w.signal()
	}
	for _, obj := range destroy {
		p.runDestroy(obj)
	}

	log.WithField("destroyed", len(destroy)).Debug("pool closed")
	return nil
}

// sizeLocked counts every resource the pool is responsible for,
// including creations still in flight.
func (p *Pool[T]) sizeLocked() int {
	return len(p.free) + len(p.taken) + p.reserved
}

func (p *Pool[T]) belowMinLocked() bool {
	return p.cfg.MinSize > 0 && p.sizeLocked() < p.cfg.MinSize
}

// wakeOneLocked hands a wake token to the longest-waiting checkout.
func (p *Pool[T]) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.signal()
}

// removeWaiterLocked takes w out of the queue, reporting false when a
// release already popped it.
func (p *Pool[T]) removeWaiterLocked(w *waiter) bool {
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of pool state and counters.
type Stats struct {
	// MinSize is the configured warm minimum.
	MinSize int
	// MaxSize is the configured hard cap.
	MaxSize int
	// NumFree is the number of idle resources.
	NumFree int
	// NumTaken is the number of checked-out resources.
	NumTaken int
	// NumWaiting is the number of queued checkouts.
	NumWaiting int
	// CheckoutCount is the total number of checkout attempts.
	CheckoutCount uint64
	// CheckoutSuccess is the number of successful checkouts.
	CheckoutSuccess uint64
	// CheckoutFailed is the number of failed checkouts.
	CheckoutFailed uint64
	// ReleaseCount is the number of handle releases.
	ReleaseCount uint64
	// ValidationFails is the number of resources that failed validation.
	ValidationFails uint64
	// Created is the number of resources the factory created.
	Created uint64
	// Destroyed is the number of resources destroyed.
	Destroyed uint64
	// Evicted is the number of idle evictions.
	Evicted uint64
	// ProbeBuilds is how many times the validation probe was built.
	// It is at most 1 for the lifetime of a pool.
	ProbeBuilds uint64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		MinSize:         p.cfg.MinSize,
		MaxSize:         p.cfg.MaxSize,
		NumFree:         len(p.free),
		NumTaken:        len(p.taken),
		NumWaiting:      len(p.waiters),
		CheckoutCount:   atomic.LoadUint64(&p.checkoutCount),
		CheckoutSuccess: atomic.LoadUint64(&p.checkoutSuccess),
		CheckoutFailed:  atomic.LoadUint64(&p.checkoutFailed),
		ReleaseCount:    atomic.LoadUint64(&p.releaseCount),
		ValidationFails: atomic.LoadUint64(&p.validationFails),
		Created:         atomic.LoadUint64(&p.createdCount),
		Destroyed:       atomic.LoadUint64(&p.destroyedCount),
		Evicted:         atomic.LoadUint64(&p.evictedCount),
		ProbeBuilds:     atomic.LoadUint64(&p.probeBuilds),
	}
}
