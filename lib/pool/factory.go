package pool

import (
	"context"
)

// Factory creates and manages the lifecycle of one kind of pooled resource.
// It holds no pool state; variant resource kinds are distinct Factory
// implementations passed to New, not subclasses of the pool.
//
// The pool calls hooks in this order over a resource's life:
// Create, then per checkout Activate (reused resources only) and Validate
// (gated by Config.ValidationInterval), per release Passivate, and finally
// Destroy exactly once.
type Factory[T any] interface {
	// Create makes a new resource. A failure is surfaced to the caller as
	// a creation error and does not consume a pool slot.
	Create(ctx context.Context) (T, error)

	// Activate prepares a previously pooled resource before it is handed
	// to a caller. An error discards the resource.
	Activate(res T) error

	// Passivate resets a resource's transient state when it is returned,
	// for example cancelling uncommitted work. An error marks the resource
	// unusable and it is destroyed instead of pooled.
	Passivate(res T) error

	// BuildProbe constructs the validation probe. It is called at most
	// once per pool lifetime; the result is cached and passed to every
	// Validate call.
	BuildProbe() (any, error)

	// Validate checks that a resource is still usable, using the cached
	// probe. An error discards the resource and the checkout retries.
	Validate(res T, probe any) error

	// Destroy releases the underlying resource. It is called at most once
	// per resource; errors are logged by the pool and never fatal.
	Destroy(res T) error
}

// Funcs adapts plain functions to the Factory interface. CreateFunc is
// required; every other hook is optional and defaults to a no-op.
type Funcs[T any] struct {
	CreateFunc     func(ctx context.Context) (T, error)
	ActivateFunc   func(res T) error
	PassivateFunc  func(res T) error
	BuildProbeFunc func() (any, error)
	ValidateFunc   func(res T, probe any) error
	DestroyFunc    func(res T) error
}

// Create implements Factory.
func (f *Funcs[T]) Create(ctx context.Context) (T, error) {
	return f.CreateFunc(ctx)
}

// Activate implements Factory.
func (f *Funcs[T]) Activate(res T) error {
	if f.ActivateFunc == nil {
		return nil
	}
	return f.ActivateFunc(res)
}

// Passivate implements Factory.
func (f *Funcs[T]) Passivate(res T) error {
	if f.PassivateFunc == nil {
		return nil
	}
	return f.PassivateFunc(res)
}

// BuildProbe implements Factory.
func (f *Funcs[T]) BuildProbe() (any, error) {
	if f.BuildProbeFunc == nil {
		return nil, nil
	}
	return f.BuildProbeFunc()
}

// Validate implements Factory.
func (f *Funcs[T]) Validate(res T, probe any) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(res, probe)
}

// Destroy implements Factory.
func (f *Funcs[T]) Destroy(res T) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(res)
}
