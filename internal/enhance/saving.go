// Package enhance provides the saving indicator shown after autosaves.
package enhance

import (
	"time"

	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

// DefaultHideAfter is how long the indicator stays visible after a save.
const DefaultHideAfter = 1500 * time.Millisecond

// Option customises a SavingIndicator.
type Option func(*SavingIndicator)

// WithHideAfter overrides DefaultHideAfter.
func WithHideAfter(d time.Duration) Option {
	return func(s *SavingIndicator) {
		if d > 0 {
			s.hideAfter = d
		}
	}
}

// WithObserver is called with the new visibility on every transition.
func WithObserver(fn func(visible bool)) Option {
	return func(s *SavingIndicator) {
		s.observer = fn
	}
}

// SavingIndicator is a transient "Saving..." flag. Each show re-arms the hide
// timer.
type SavingIndicator struct {
	sched     schedule.Scheduler
	hideAfter time.Duration
	observer  func(bool)
	timer     schedule.Timer
	visible   bool
	shows     int
	destroyed bool
}

// NewSavingIndicator builds a hidden indicator.
func NewSavingIndicator(sched schedule.Scheduler, opts ...Option) *SavingIndicator {
	s := &SavingIndicator{sched: sched, hideAfter: DefaultHideAfter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShowSavingIndicator makes the indicator visible and schedules the hide.
func (s *SavingIndicator) ShowSavingIndicator() {
	if s.destroyed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.shows++
	s.set(true)
	s.timer = s.sched.AfterFunc(s.hideAfter, func() {
		s.timer = nil
		s.set(false)
	})
}

// Visible reports the current state.
func (s *SavingIndicator) Visible() bool {
	return s.visible
}

// Shows counts ShowSavingIndicator calls.
func (s *SavingIndicator) Shows() int {
	return s.shows
}

// Destroy hides the indicator and cancels the pending hide.
func (s *SavingIndicator) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.set(false)
}

func (s *SavingIndicator) set(visible bool) {
	if s.visible == visible {
		return
	}
	s.visible = visible
	if s.observer != nil {
		s.observer(visible)
	}
}
