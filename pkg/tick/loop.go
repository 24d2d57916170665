// Package tick drives a server on a fixed simulation schedule.
//
// Each iteration measures elapsed wall time and adds it to a residual. The
// process waits (doing network I/O) for the time left until the next frame
// is due. Then it ticks once per whole frame the residual holds.
package tick

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Process is what the loop drives. Wait may block for up to budget and
// should do useful I/O meanwhile. Tick advances the simulation one frame.
// Both are called from the loop's goroutine only.
type Process interface {
	Wait(budget time.Duration)
	Tick()
}

// Funcs adapts a waiter and a ticker function to Process. Nil fields are
// no-ops.
type Funcs struct {
	Waiter func(budget time.Duration)
	Ticker func()
}

// Wait ...
func (f Funcs) Wait(budget time.Duration) {
	if f.Waiter != nil {
		f.Waiter(budget)
	}
}

// Tick ...
func (f Funcs) Tick() {
	if f.Ticker != nil {
		f.Ticker()
	}
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxCatchUp caps the ticks run per iteration. Residual time beyond the
// cap is dropped, keeping less than one frame. Zero means unbounded.
func WithMaxCatchUp(n int) Option {
	return func(l *Loop) { l.maxCatchUp = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop is the fixed-tick run loop around a Process.
type Loop struct {
	p          Process
	frameTime  time.Duration
	maxCatchUp int
	now        func() time.Time

	residual time.Duration // loop goroutine only
	ticks    atomic.Uint64
	dropped  atomic.Int64
}

// WithProcessTick wraps p in a loop ticking fps times per second. The frame
// time is 1000/fps whole milliseconds.
func WithProcessTick(fps int, p Process, opts ...Option) (*Loop, error) {
	if fps < 1 || fps > 1000 {
		return nil, fmt.Errorf("fps %d not in [1, 1000]", fps)
	}
	if p == nil {
		return nil, fmt.Errorf("nil process")
	}

	l := &Loop{
		p:         p,
		frameTime: time.Duration(1000/fps) * time.Millisecond,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxCatchUp < 0 {
		return nil, fmt.Errorf("max catch-up %d is negative", l.maxCatchUp)
	}

	return l, nil
}

// Step runs one iteration with the given elapsed wall time and returns the
// number of ticks it ran.
func (l *Loop) Step(elapsed time.Duration) int {
	if elapsed > 0 {
		l.residual += elapsed
	}

	budget := l.frameTime - l.residual
	if budget < 0 {
		budget = 0
	}
	l.p.Wait(budget)

	n := 0
	for l.residual >= l.frameTime {
		if l.maxCatchUp > 0 && n >= l.maxCatchUp {
			keep := l.residual % l.frameTime
			l.dropped.Add(int64(l.residual - keep))
			l.residual = keep
			break
		}

		l.residual -= l.frameTime
		l.p.Tick()
		l.ticks.Add(1)
		n++
	}

	return n
}

// Run loops until ctx is cancelled. Elapsed time includes the time spent
// waiting and ticking in the previous iteration.
func (l *Loop) Run(ctx context.Context) error {
	last := l.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.now()
		l.Step(now.Sub(last))
		last = now
	}
}

// FrameTime ...
func (l *Loop) FrameTime() time.Duration {
	return l.frameTime
}

// Residual returns the time carried to the next iteration. Only the loop's
// goroutine may call it while Run is active.
func (l *Loop) Residual() time.Duration {
	return l.residual
}

// Ticks returns the total ticks run.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Dropped returns the total time discarded by the catch-up cap.
func (l *Loop) Dropped() time.Duration {
	return time.Duration(l.dropped.Load())
}
