// Package schedule provides the cooperative timing primitives the form
// subsystem runs on: cancellable timers, a next-render-tick request, and a
// per-channel debouncer. Two schedulers implement them. Loop executes every
// callback on one goroutine using a benbjohnson clock, and Manual is a virtual
// clock that fires callbacks on the caller's goroutine when advanced.
package schedule

import (
	"context"
	"time"
)

// DefaultFrameInterval approximates one display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped a callback that had not yet run.
	Stop() bool
}

// Scheduler defers callbacks by wall-clock delay or to the next render tick.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	NextFrame(fn func()) Timer
}

// Executor is a Scheduler that also accepts work from other goroutines.
// Do runs fn on the scheduler's goroutine and waits for it.
type Executor interface {
	Scheduler
	Do(ctx context.Context, fn func()) error
}

// Poster enqueues fn on the scheduler's goroutine without waiting. Loop
// implements it; Manual does not, since its callbacks already run on the
// caller's goroutine.
type Poster interface {
	Post(fn func()) bool
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }

// Debouncer owns one debounce channel. Each Trigger cancels the previous
// timer of the channel before arming a new one.
type Debouncer struct {
	sched Scheduler
	delay time.Duration
	timer Timer
	gen   uint64
}

// NewDebouncer builds a Debouncer that waits delay after the last Trigger.
func NewDebouncer(s Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{sched: s, delay: delay}
}

// Delay returns the configured quiet period.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Trigger (re)arms the channel so fn runs after the quiet period.
func (d *Debouncer) Trigger(fn func()) {
	d.Cancel()
	d.gen++
	gen := d.gen
	d.timer = d.sched.AfterFunc(d.delay, func() {
		if d.gen == gen {
			d.timer = nil
		}
		fn()
	})
}

// Cancel stops the armed timer, if any. It reports whether a callback was
// prevented from running.
func (d *Debouncer) Cancel() bool {
	if d.timer == nil {
		return false
	}
	stopped := d.timer.Stop()
	d.timer = nil
	return stopped
}

// Pending reports whether a callback is armed and has not fired.
func (d *Debouncer) Pending() bool {
	return d.timer != nil
}
