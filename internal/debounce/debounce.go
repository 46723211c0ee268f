// Package debounce delays a callback until input has been quiet for a fixed
// period.
package debounce

import (
	"sync"
	"time"
)

const DefaultDelay = 500 * time.Millisecond

// Debouncer calls fn once with the most recent value pushed, after delay has
// passed without another Push.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	latest  T
	seq     uint64
	stopped bool
}

func New[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Push records v and restarts the quiet period.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.latest = v
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	// A Push that raced with this timer has already scheduled its own call.
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	v := d.latest
	d.mu.Unlock()

	d.fn(v)
}

// Flush cancels the pending timer and invokes fn immediately with the latest
// value. It reports whether a call was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.timer == nil || !d.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	d.seq++
	v := d.latest
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Stop cancels any pending call. Later pushes are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
}
