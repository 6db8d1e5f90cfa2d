package pool

import (
	"fmt"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// State is a pooled object's lifecycle state.
type State int32

const (
	// StateCreated is the initial state before the object enters the
	// free list or is handed to a caller.
	StateCreated State = iota
	// StateFree means the object is idle in the pool.
	StateFree
	// StateTaken means the object is checked out by exactly one caller.
	StateTaken
	// StateInvalid means the object failed validation or passivation and
	// awaits destruction.
	StateInvalid
	// StateDestroyed is terminal; the underlying resource is gone.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFree:
		return "free"
	case StateTaken:
		return "taken"
	case StateInvalid:
		return "invalid"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// validNext lists the legal transitions out of each state.
var validNext = map[State][]State{
	StateCreated: {StateFree, StateTaken, StateInvalid},
	StateFree:    {StateTaken, StateInvalid},
	StateTaken:   {StateFree, StateInvalid},
	StateInvalid: {StateDestroyed},
}

// pooledObject wraps one resource instance with lifecycle metadata.
// The state field is guarded by the owning pool's mutex; the timestamp
// fields are atomics so the reaper and checkout paths can read them
// without holding it.
type pooledObject[T any] struct {
	id  uint64
	res T

	state State

	createdAt     time.Time
	lastActivated atomic.Int64 // unix nanos, doubles as the idle clock
	lastValidated atomic.Int64 // unix nanos
}

func newPooledObject[T any](id uint64, res T, now time.Time) *pooledObject[T] {
	o := &pooledObject[T]{
		id:        id,
		res:       res,
		state:     StateCreated,
		createdAt: now,
	}
	o.lastActivated.Store(now.UnixNano())
	// A fresh resource counts as validated at creation time.
	o.lastValidated.Store(now.UnixNano())
	return o
}

// transition moves the object to the given state, enforcing the lifecycle
// machine. The caller must hold the pool mutex.
func (o *pooledObject[T]) transition(to State) error {
	for _, next := range validNext[o.state] {
		if next == to {
			o.state = to
			return nil
		}
	}
	return fmt.Errorf("object %d: %s -> %s: %w", o.id, o.state, to, apperrors.ErrInvalidState)
}

// markDestroyedLocked drives the object to Destroyed through Invalid and
// reports whether the caller should run the factory destroy hook. It
// returns false when the object is already destroyed, so the hook never
// runs twice. The caller must hold the pool mutex.
func (o *pooledObject[T]) markDestroyedLocked() bool {
	if o.state == StateDestroyed {
		return false
	}
	if o.state != StateInvalid {
		o.state = StateInvalid
	}
	o.state = StateDestroyed
	return true
}

// touchActivated resets the idle clock.
func (o *pooledObject[T]) touchActivated(now time.Time) {
	o.lastActivated.Store(now.UnixNano())
}

// touchValidated records a successful validation.
func (o *pooledObject[T]) touchValidated(now time.Time) {
	o.lastValidated.Store(now.UnixNano())
}

// idleFor returns how long the object has been idle.
func (o *pooledObject[T]) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, o.lastActivated.Load()))
}

// validatedWithin reports whether the last successful validation is more
// recent than d.
func (o *pooledObject[T]) validatedWithin(now time.Time, d time.Duration) bool {
	return now.Sub(time.Unix(0, o.lastValidated.Load())) < d
}
