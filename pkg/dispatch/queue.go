// Package dispatch funnels work from network goroutines onto the goroutine
// that owns the tick loop, so game state only ever has one writer.
package dispatch

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Post when the queue is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("dispatch queue closed")
)

// Queue is a bounded FIFO of callbacks. Post may be called from any
// goroutine; Drain and RunFor must only be called by the owning goroutine.
type Queue struct {
	ch     chan func()
	mu     sync.RWMutex
	closed bool
}

// New ...
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan func(), capacity)}
}

// Post enqueues fn without blocking.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued callbacks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain runs everything queued right now and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case fn, ok := <-q.ch:
			if !ok {
				return n
			}
			fn()
			n++
		default:
			return n
		}
	}
}

// RunFor blocks for up to budget, running callbacks as they arrive. A zero
// or negative budget behaves like Drain.
func (q *Queue) RunFor(budget time.Duration) int {
	if budget <= 0 {
		return q.Drain()
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	n := 0
	for {
		select {
		case fn, ok := <-q.ch:
			if !ok {
				return n
			}
			fn()
			n++
		case <-timer.C:
			return n
		}
	}
}

// Close rejects further posts. Callbacks already queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
