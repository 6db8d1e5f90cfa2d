package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/scheduler"
)

type mockResource struct {
	id    int
	users atomic.Int32
}

type mockFactory struct {
	mu         sync.Mutex
	created    int
	destroyed  int
	activated  int
	passivated int
	validated  int
	probeBuilt int

	createErr    error
	activateErr  error
	passivateErr error
	validateErr  error
	probeErr     error
}

func (f *mockFactory) Create(ctx context.Context) (*mockResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &mockResource{id: f.created}, nil
}

func (f *mockFactory) Activate(r *mockResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated++
	return f.activateErr
}

func (f *mockFactory) Passivate(r *mockResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passivated++
	return f.passivateErr
}

func (f *mockFactory) BuildProbe() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeBuilt++
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return "probe", nil
}

func (f *mockFactory) Validate(r *mockResource, probe any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated++
	return f.validateErr
}

func (f *mockFactory) Destroy(r *mockResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

func (f *mockFactory) counts() (created, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.destroyed
}

// quietConfig keeps the background reaper out of the way so tests drive
// reapTick directly.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.ReapInterval = time.Hour
	return cfg
}

func newTestPool(t *testing.T, f *mockFactory, cfg Config) *Pool[*mockResource] {
	t.Helper()
	p, err := New[*mockResource](f, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCheckoutReusesReleasedResource(t *testing.T) {
	f := &mockFactory{}
	p := newTestPool(t, f, quietConfig())

	h1, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	r1, err := h1.Resource()
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if err := h1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	h2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	r2, _ := h2.Resource()
	if r1 != r2 {
		t.Error("expected the released resource to be reused")
	}
	if created, _ := f.counts(); created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestCheckoutTimesOutWhenSaturated(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, f, cfg)

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Checkout(ctx)
	if !errors.Is(err, apperrors.ErrPoolTimeout) {
		t.Errorf("Checkout error = %v, want ErrPoolTimeout", err)
	}
}

func TestWaiterReceivesReleasedResource(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, f, cfg)

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("waiting Checkout: %v", err)
	}
	h2.Release()

	if created, _ := f.counts(); created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestCreateErrorDoesNotLeakCapacity(t *testing.T) {
	f := &mockFactory{createErr: fmt.Errorf("dial refused")}
	cfg := quietConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, f, cfg)

	_, err := p.Checkout(context.Background())
	if !errors.Is(err, apperrors.ErrCreation) {
		t.Fatalf("Checkout error = %v, want ErrCreation", err)
	}

	f.mu.Lock()
	f.createErr = nil
	f.mu.Unlock()

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout after recovery: %v", err)
	}
	h.Release()
}

func TestDoubleReleaseFails(t *testing.T) {
	f := &mockFactory{}
	p := newTestPool(t, f, quietConfig())

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := h.Release(); !errors.Is(err, apperrors.ErrInvalidHandle) {
		t.Errorf("second Release error = %v, want ErrInvalidHandle", err)
	}
	if _, err := h.Resource(); !errors.Is(err, apperrors.ErrInvalidHandle) {
		t.Errorf("Resource after Release error = %v, want ErrInvalidHandle", err)
	}
	if !h.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestValidationProbeBuiltOnce(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.ValidationInterval = -1 // validate every checkout
	p := newTestPool(t, f, cfg)

	for i := 0; i < 3; i++ {
		h, err := p.Checkout(context.Background())
		if err != nil {
			t.Fatalf("Checkout %d: %v", i, err)
		}
		if err := h.Release(); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}

	f.mu.Lock()
	probeBuilt, validated := f.probeBuilt, f.validated
	f.mu.Unlock()
	if probeBuilt != 1 {
		t.Errorf("probe built %d times, want 1", probeBuilt)
	}
	if validated != 3 {
		t.Errorf("validated = %d, want 3", validated)
	}
	if s := p.Stats(); s.ProbeBuilds != 1 {
		t.Errorf("Stats.ProbeBuilds = %d, want 1", s.ProbeBuilds)
	}
}

func TestValidationFailureIsRetriedThenSurfaced(t *testing.T) {
	f := &mockFactory{validateErr: fmt.Errorf("stale session")}
	cfg := quietConfig()
	cfg.ValidationInterval = -1
	cfg.CheckoutRetries = 2
	p := newTestPool(t, f, cfg)

	_, err := p.Checkout(context.Background())
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Checkout error = %v, want ErrValidation", err)
	}

	created, destroyed := f.counts()
	if created != 3 { // retries + 1 attempts
		t.Errorf("created = %d, want 3", created)
	}
	if destroyed != created {
		t.Errorf("destroyed = %d, want %d (no leaks, no double destroy)", destroyed, created)
	}
	if s := p.Stats(); s.ValidationFails != 3 {
		t.Errorf("Stats.ValidationFails = %d, want 3", s.ValidationFails)
	}
}

func TestFreshResourceSkipsValidation(t *testing.T) {
	f := &mockFactory{}
	p := newTestPool(t, f, quietConfig())

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	h.Release()

	f.mu.Lock()
	validated := f.validated
	f.mu.Unlock()
	if validated != 0 {
		t.Errorf("validated = %d, want 0 for a fresh resource", validated)
	}
}

func TestReaperEvictsIdleDownToMinSize(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	cfg.IdleTimeout = time.Minute
	p := newTestPool(t, f, cfg)

	cur := time.Now()
	p.now = func() time.Time { return cur }

	h1, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}
	h2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout 2: %v", err)
	}
	h1.Release()
	h2.Release()

	if s := p.Stats(); s.NumFree != 2 {
		t.Fatalf("NumFree = %d, want 2", s.NumFree)
	}

	cur = cur.Add(61 * time.Second)
	p.reapTick()

	s := p.Stats()
	if s.NumFree != 1 {
		t.Errorf("NumFree after reap = %d, want 1", s.NumFree)
	}
	if s.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", s.Evicted)
	}

	// The survivor stays: the pool never reaps below MinSize.
	cur = cur.Add(time.Hour)
	p.reapTick()
	if s := p.Stats(); s.NumFree != 1 {
		t.Errorf("NumFree after second reap = %d, want 1", s.NumFree)
	}
}

func TestNegativeIdleTimeoutNeverEvicts(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.IdleTimeout = -1
	p := newTestPool(t, f, cfg)

	cur := time.Now()
	p.now = func() time.Time { return cur }

	h, _ := p.Checkout(context.Background())
	h.Release()

	cur = cur.Add(24 * time.Hour)
	p.reapTick()

	if s := p.Stats(); s.NumFree != 1 {
		t.Errorf("NumFree = %d, want 1", s.NumFree)
	}
}

func TestMinSizeWarmedAtConstruction(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MinSize = 3
	p := newTestPool(t, f, cfg)

	if s := p.Stats(); s.NumFree != 3 {
		t.Errorf("NumFree = %d, want 3", s.NumFree)
	}
	if created, _ := f.counts(); created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
}

func TestCloseDrainsPool(t *testing.T) {
	f := &mockFactory{}
	p, err := New[*mockResource](f, quietConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	h2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	h2.Release() // one free, one taken

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, destroyed := f.counts(); destroyed != 1 {
		t.Errorf("destroyed after Close = %d, want 1 (free only)", destroyed)
	}

	if _, err := p.Checkout(context.Background()); !errors.Is(err, apperrors.ErrPoolClosed) {
		t.Errorf("Checkout after Close error = %v, want ErrPoolClosed", err)
	}
	if err := p.Close(); !errors.Is(err, apperrors.ErrPoolClosed) {
		t.Errorf("second Close error = %v, want ErrPoolClosed", err)
	}

	// The outstanding lease is destroyed on release, not returned.
	if err := h.Release(); err != nil {
		t.Fatalf("Release after Close: %v", err)
	}
	if _, destroyed := f.counts(); destroyed != 2 {
		t.Errorf("destroyed = %d, want 2", destroyed)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MaxSize = 1
	p, err := New[*mockResource](f, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, _ := p.Checkout(context.Background())
	defer func() { h.Release() }()

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := p.Checkout(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, apperrors.ErrPoolClosed) {
			t.Errorf("waiter error = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestTryCheckoutFailsFast(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, f, cfg)

	h, err := p.TryCheckout(context.Background())
	if err != nil {
		t.Fatalf("TryCheckout: %v", err)
	}
	defer h.Release()

	_, err = p.TryCheckout(context.Background())
	if !errors.Is(err, apperrors.ErrPoolExhausted) {
		t.Errorf("TryCheckout error = %v, want ErrPoolExhausted", err)
	}
}

func TestCreateRateLimitsColdStart(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.CreateRate = 0.001 // no meaningful refill within the test
	cfg.CreateBurst = 2
	p := newTestPool(t, f, cfg)

	h1, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}
	defer h1.Release()
	h2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout 2: %v", err)
	}
	defer h2.Release()

	_, err = p.Checkout(context.Background())
	if !errors.Is(err, apperrors.ErrPoolExhausted) {
		t.Errorf("Checkout over rate error = %v, want ErrPoolExhausted", err)
	}
	if created, _ := f.counts(); created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
}

func TestPassivateFailureDestroysResource(t *testing.T) {
	f := &mockFactory{passivateErr: fmt.Errorf("reset failed")}
	p := newTestPool(t, f, quietConfig())

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := h.Release(); err == nil {
		t.Error("Release should surface the passivate failure")
	}

	if _, destroyed := f.counts(); destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", destroyed)
	}
	if s := p.Stats(); s.NumFree != 0 {
		t.Errorf("NumFree = %d, want 0", s.NumFree)
	}

	// The slot is free for a replacement.
	f.mu.Lock()
	f.passivateErr = nil
	f.mu.Unlock()
	h2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout after passivate failure: %v", err)
	}
	h2.Release()
}

func TestConcurrentCheckoutRespectsMaxSize(t *testing.T) {
	f := &mockFactory{}
	cfg := quietConfig()
	cfg.MaxSize = 4
	cfg.CheckoutTimeout = 10 * time.Second
	p := newTestPool(t, f, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h, err := p.Checkout(context.Background())
				if err != nil {
					t.Errorf("Checkout: %v", err)
					return
				}
				r, err := h.Resource()
				if err != nil {
					t.Errorf("Resource: %v", err)
					return
				}
				if r.users.Add(1) != 1 {
					t.Error("resource checked out to two callers at once")
				}
				r.users.Add(-1)
				if err := h.Release(); err != nil {
					t.Errorf("Release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	if s.NumTaken != 0 {
		t.Errorf("NumTaken = %d, want 0", s.NumTaken)
	}
	if s.NumFree > cfg.MaxSize {
		t.Errorf("NumFree = %d exceeds MaxSize %d", s.NumFree, cfg.MaxSize)
	}
	if created, _ := f.counts(); created > cfg.MaxSize {
		t.Errorf("created = %d exceeds MaxSize %d", created, cfg.MaxSize)
	}
}

func TestStatsCounters(t *testing.T) {
	f := &mockFactory{}
	p := newTestPool(t, f, quietConfig())

	h, _ := p.Checkout(context.Background())
	h.Release()

	s := p.Stats()
	if s.CheckoutCount != 1 || s.CheckoutSuccess != 1 || s.CheckoutFailed != 0 {
		t.Errorf("checkout counters = %d/%d/%d, want 1/1/0", s.CheckoutCount, s.CheckoutSuccess, s.CheckoutFailed)
	}
	if s.ReleaseCount != 1 {
		t.Errorf("ReleaseCount = %d, want 1", s.ReleaseCount)
	}
	if s.Created != 1 {
		t.Errorf("Created = %d, want 1", s.Created)
	}
	UpdateMetrics(s)
	if got := ResourcesMax.Value(); got != int64(s.MaxSize) {
		t.Errorf("ResourcesMax gauge = %d, want %d", got, s.MaxSize)
	}
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := New[*mockResource](nil, DefaultConfig())
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("New(nil) error = %v, want ErrConfiguration", err)
	}
}

func TestFuncsAdapter(t *testing.T) {
	var n atomic.Int32
	f := &Funcs[int]{
		CreateFunc: func(ctx context.Context) (int, error) {
			return int(n.Add(1)), nil
		},
	}
	p, err := NewWithScheduler[int](f, quietConfig(), scheduler.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	v, err := h.Resource()
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if v != 1 {
		t.Errorf("resource = %d, want 1", v)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
