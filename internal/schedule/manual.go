package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Manual is a virtual-clock Scheduler for tests and headless runs. Nothing
// fires until Advance is called; callbacks then run in due-time order on the
// goroutine calling Advance.
type Manual struct {
	mu        sync.Mutex
	now       time.Time
	seq       uint64
	timers    []*manualTimer
	frame     time.Duration
	immediate bool
}

// ManualOption customises a Manual scheduler.
type ManualOption func(*Manual)

// WithFrameInterval sets the delay used by NextFrame.
func WithFrameInterval(d time.Duration) ManualOption {
	return func(m *Manual) {
		m.frame = d
	}
}

// WithImmediateFrames makes NextFrame run its callback synchronously, the
// degraded mode for environments with no render loop.
func WithImmediateFrames() ManualOption {
	return func(m *Manual) {
		m.immediate = true
	}
}

// NewManual returns a Manual scheduler starting at the Unix epoch.
func NewManual(opts ...ManualOption) *Manual {
	m := &Manual{
		now:   time.Unix(0, 0).UTC(),
		frame: DefaultFrameInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type manualTimer struct {
	m    *Manual
	when time.Time
	seq  uint64
	fn   func()
	done bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.m.remove(t)
	return true
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn at Now()+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, when: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	sort.SliceStable(m.timers, func(i, j int) bool {
		a, b := m.timers[i], m.timers[j]
		if a.when.Equal(b.when) {
			return a.seq < b.seq
		}
		return a.when.Before(b.when)
	})
	return t
}

// NextFrame schedules fn on the next render tick.
func (m *Manual) NextFrame(fn func()) Timer {
	if m.immediate {
		fn()
		return stoppedTimer{}
	}
	return m.AfterFunc(m.frame, fn)
}

// Advance moves the clock forward by d, firing every timer that comes due,
// including timers scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		if len(m.timers) == 0 || m.timers[0].when.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		next := m.timers[0]
		m.timers = m.timers[1:]
		next.done = true
		if next.when.After(m.now) {
			m.now = next.when
		}
		m.mu.Unlock()
		next.fn()
	}
}

// Flush advances until no timers remain, bounded by limit to stop runaway
// rescheduling.
func (m *Manual) Flush(limit time.Duration) {
	m.mu.Lock()
	deadline := m.now.Add(limit)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		if len(m.timers) == 0 || m.timers[0].when.After(deadline) {
			m.mu.Unlock()
			return
		}
		step := m.timers[0].when.Sub(m.now)
		m.mu.Unlock()
		m.Advance(step)
	}
}

// Do runs fn immediately on the caller's goroutine.
func (m *Manual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("schedule manual do: %w", err)
	}
	fn()
	return nil
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) remove(t *manualTimer) {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}
