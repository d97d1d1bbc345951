package ble

import (
	"context"
	"sync"
	"time"
)

// Settler is an exactly-once commit point between racing triggers: the first
// call to Settle wins, later calls are discarded. Hooks registered with
// OnSettle run exactly once, after the winning value is stored and before Done
// is closed, whichever trigger settled it.
type Settler[T any] struct {
	mu             sync.Mutex
	settled        bool
	byTimer        bool
	timerCancelled bool
	value          T
	timer          *time.Timer
	hooks          []func()
	done           chan struct{}
}

func NewSettler[T any]() *Settler[T] {
	return &Settler[T]{done: make(chan struct{})}
}

// Arm starts the deadline. When it fires before any other trigger the settler
// settles on onTimeout. Arming an already settled or armed settler is a no-op.
func (s *Settler[T]) Arm(d time.Duration, onTimeout T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(d, func() { s.settle(onTimeout, true) })
}

// OnSettle registers a cleanup. If the settler is already settled f runs now.
func (s *Settler[T]) OnSettle(f func()) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		f()
		return
	}
	s.hooks = append(s.hooks, f)
	s.mu.Unlock()
}

// Settle commits v if nothing settled yet and reports whether it won.
func (s *Settler[T]) Settle(v T) bool {
	return s.settle(v, false)
}

func (s *Settler[T]) settle(v T, byTimer bool) bool {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return false
	}
	s.settled = true
	s.byTimer = byTimer
	s.value = v
	if s.timer != nil && !byTimer {
		s.timerCancelled = s.timer.Stop()
	}
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	close(s.done)
	return true
}

// Done is closed once a value has been committed.
func (s *Settler[T]) Done() <-chan struct{} { return s.done }

// Result returns the committed value and whether there is one.
func (s *Settler[T]) Result() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.settled
}

// Settled reports whether a value has been committed.
func (s *Settler[T]) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// TimedOut reports whether the deadline produced the committed value.
func (s *Settler[T]) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTimer
}

// Wait blocks until settlement or ctx cancellation.
func (s *Settler[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		v, _ := s.Result()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
