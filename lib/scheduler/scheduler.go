// Package scheduler provides a cooperative periodic-task runner.
// A single goroutine drives any number of delayed or recurring callbacks,
// so components that need timers (such as pool idle reaping) do not each
// dedicate a goroutine to them.
//
// Callbacks run sequentially on the scheduler goroutine. A slow callback
// delays later ones, so callbacks must be short and must never block on
// work the scheduler itself drives.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Task is a scheduled callback. It is returned by Schedule and Every and
// can be cancelled at any time; cancellation is idempotent.
type Task struct {
	s        *Scheduler
	fn       func()
	runAt    time.Time
	interval time.Duration // 0 for one-shot tasks
	index    int           // heap index, -1 when not queued
	cancel   bool
}

// Cancel stops the task from running again. A callback already executing
// is not interrupted.
func (t *Task) Cancel() {
	t.s.mu.Lock()
	t.cancel = true
	t.s.mu.Unlock()
}

// Cancelled reports whether the task has been cancelled.
func (t *Task) Cancelled() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.cancel
}

// Scheduler runs delayed and recurring tasks on one goroutine.
type Scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New creates a scheduler and starts its goroutine.
func New() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

var (
	defaultOnce sync.Once
	defaultSch  *Scheduler
)

// Default returns the shared process-wide scheduler, starting it on first use.
// Pools created without an explicit scheduler register their reap tasks here.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultSch = New()
	})
	return defaultSch
}

// Schedule runs fn once after delay d.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Task {
	return s.add(&Task{s: s, fn: fn, runAt: time.Now().Add(d)})
}

// Every runs fn repeatedly, first after d and then every d after each run
// completes. The returned task stops the recurrence when cancelled.
func (s *Scheduler) Every(d time.Duration, fn func()) *Task {
	return s.add(&Task{s: s, fn: fn, runAt: time.Now().Add(d), interval: d})
}

func (s *Scheduler) add(t *Task) *Task {
	s.mu.Lock()
	if s.stopped {
		t.cancel = true
		s.mu.Unlock()
		log.Warn("task scheduled on stopped scheduler")
		return t
	}
	heap.Push(&s.tasks, t)
	s.mu.Unlock()
	s.kick()
	return t
}

// kick wakes the run loop so it re-evaluates the next deadline.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop cancels all tasks and waits for the scheduler goroutine to exit.
// A callback already executing is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, t := range s.tasks {
		t.cancel = true
	}
	s.mu.Unlock()
	s.kick()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		due, wait, stopped := s.collect()
		if stopped {
			return
		}

		for _, t := range due {
			t.fn()
		}
		s.requeue(due)

		if len(due) > 0 {
			// Deadlines may have shifted while callbacks ran.
			continue
		}

		if wait < 0 {
			<-s.wake
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}

// collect pops every due task and reports how long to sleep until the next
// deadline. wait < 0 means the queue is empty.
func (s *Scheduler) collect() (due []*Task, wait time.Duration, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, 0, true
	}

	now := time.Now()
	wait = -1
	for len(s.tasks) > 0 {
		next := s.tasks[0]
		if next.cancel {
			heap.Pop(&s.tasks)
			continue
		}
		if d := next.runAt.Sub(now); d > 0 {
			wait = d
			break
		}
		heap.Pop(&s.tasks)
		due = append(due, next)
	}
	return due, wait, false
}

// requeue pushes recurring tasks back with their next deadline.
func (s *Scheduler) requeue(due []*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	for _, t := range due {
		if t.interval > 0 && !t.cancel {
			t.runAt = time.Now().Add(t.interval)
			heap.Push(&s.tasks, t)
		}
	}
}

// taskHeap orders tasks by deadline, earliest first.
type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
