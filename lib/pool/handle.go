package pool

import (
	"sync"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// Handle is a caller's lease on one pooled resource. It is created by
// Checkout and consumed exactly once by Release; Release is the only way
// a resource returns to the pool. Any operation on an already-released
// handle fails with an invalid-handle error rather than being ignored,
// which catches caller bugs early.
type Handle[T any] struct {
	pool *Pool[T]
	obj  *pooledObject[T]

	mu       sync.Mutex
	released bool
}

// Resource returns the leased resource. It fails after Release.
func (h *Handle[T]) Resource() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		var zero T
		return zero, apperrors.Wrap(apperrors.CodeInvalidHandle, "resource access after release", apperrors.ErrInvalidHandle)
	}
	return h.obj.res, nil
}

// Release returns the resource to the pool. A second call fails with an
// invalid-handle error.
func (h *Handle[T]) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeInvalidHandle, "handle released twice", apperrors.ErrInvalidHandle)
	}
	h.released = true
	h.mu.Unlock()

	return h.pool.checkin(h.obj)
}

// Released reports whether the handle has been released.
func (h *Handle[T]) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
