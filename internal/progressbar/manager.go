package progressbar

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
)

// Manager states.
const (
	StateIdle     = "idle"
	StateUpdating = "updating"
)

const (
	eventBegin  = "begin"
	eventFinish = "finish"
)

// Suspension reports whether a bulk restore is in progress.
type Suspension interface {
	IsSuspended() bool
}

// CalculatorFunc computes a snapshot; Calculate is the default.
type CalculatorFunc func(f *form.Form, exclusions []string) Snapshot

// Option customises a Manager.
type Option func(*Manager)

// WithSuspension makes updates no-ops while s reports suspended.
func WithSuspension(s Suspension) Option {
	return func(m *Manager) {
		m.suspension = s
	}
}

// WithExclusions replaces DefaultExclusions.
func WithExclusions(prefixes []string) Option {
	return func(m *Manager) {
		m.exclusions = append([]string(nil), prefixes...)
	}
}

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEvents emits a PROGRESS_RENDERED event per indicator write.
func WithEvents(e progress.Emitter, src progress.Source) Option {
	return func(m *Manager) {
		m.emitter = e
		m.source = src
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCalculator swaps the calculation step.
func WithCalculator(fn CalculatorFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.calculate = fn
		}
	}
}

// Manager renders the completion of a form into an Indicator. It keeps the
// last rendered percentage and writes only when it changes. A Manager is not
// safe for concurrent use; drive it from one scheduler goroutine.
type Manager struct {
	form       *form.Form
	indicator  Indicator
	suspension Suspension
	exclusions []string
	calculate  CalculatorFunc
	machine    *fsm.FSM
	logger     *zap.Logger
	emitter    progress.Emitter
	source     progress.Source
	clock      clock.Clock

	last          int
	snapshot      Snapshot
	missingLogged bool
	destroyed     bool

	standalone *standalone
}

// New builds a Manager for f and initialises the indicator to 0%. A nil
// indicator is allowed: the manager logs once and renders nothing.
func New(f *form.Form, indicator Indicator, opts ...Option) *Manager {
	m := &Manager{
		form:       f,
		indicator:  indicator,
		exclusions: append([]string(nil), DefaultExclusions...),
		calculate:  Calculate,
		logger:     zap.NewNop(),
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventBegin, Src: []string{StateIdle}, Dst: StateUpdating},
			{Name: eventFinish, Src: []string{StateUpdating}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	if m.indicator == nil {
		m.noteMissing()
		return m
	}
	m.write(0)
	return m
}

// State returns idle or updating.
func (m *Manager) State() string {
	return m.machine.Current()
}

// UpdateProgress recalculates and renders if the percentage changed. It is a
// no-op while another update is running or while suspended.
func (m *Manager) UpdateProgress() {
	if m.destroyed {
		return
	}
	if m.machine.Is(StateUpdating) {
		m.logger.Debug("progress update already in progress, skipping")
		return
	}
	if m.suspended() {
		m.logger.Debug("form restore in progress, skipping progress update")
		return
	}
	m.guarded()
}

// UpdateProgressDirect is UpdateProgress without the reentrancy guard. The
// coordinator already serialises its calls.
func (m *Manager) UpdateProgressDirect() {
	if m.destroyed || m.suspended() {
		return
	}
	m.refresh()
}

// ForceUpdate cancels pending standalone timers, resets the guard and renders
// once even while suspended. The suspension itself is left untouched.
func (m *Manager) ForceUpdate() {
	if m.destroyed {
		return
	}
	if m.standalone != nil {
		m.standalone.debounce.Cancel()
	}
	if !m.machine.Is(StateIdle) {
		m.machine.SetState(StateIdle)
	}
	m.guarded()
}

// Reset sets the rendered percentage to 0.
func (m *Manager) Reset() {
	if m.destroyed {
		return
	}
	m.last = 0
	m.snapshot = Snapshot{FieldsTotal: m.snapshot.FieldsTotal}
	if m.write(0) {
		m.emit(m.snapshot)
	}
}

// GetCurrentProgress returns the last rendered percentage.
func (m *Manager) GetCurrentProgress() int {
	return m.last
}

// Snapshot returns the last computed snapshot.
func (m *Manager) Snapshot() Snapshot {
	return m.snapshot
}

// Destroy stops standalone listening; later updates are no-ops.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.detach()
	m.logger.Debug("progress bar manager destroyed")
}

func (m *Manager) suspended() bool {
	return m.suspension != nil && m.suspension.IsSuspended()
}

func (m *Manager) guarded() {
	if err := m.machine.Event(context.Background(), eventBegin); err != nil {
		m.logger.Warn("progress update could not start", zap.Error(err))
		return
	}
	defer m.release()
	m.refresh()
}

func (m *Manager) release() {
	if err := m.machine.Event(context.Background(), eventFinish); err != nil {
		m.logger.Warn("progress guard release failed", zap.Error(err))
		m.machine.SetState(StateIdle)
	}
}

func (m *Manager) refresh() {
	snap, err := m.compute()
	if err != nil {
		m.logger.Error("error updating progress", zap.Error(err))
		return
	}
	m.snapshot = snap
	if snap.Percentage == m.last {
		return
	}
	if m.write(snap.Percentage) {
		m.last = snap.Percentage
		m.logger.Debug("progress updated", zap.Int("percentage", snap.Percentage))
		m.emit(snap)
	}
}

func (m *Manager) compute() (snap Snapshot, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("progress calculation panicked: %v", rec)
		}
	}()
	return m.calculate(m.form, m.exclusions), nil
}

func (m *Manager) write(pct int) bool {
	if m.indicator == nil {
		m.noteMissing()
		return false
	}
	err := m.indicator.Render(NewRender(pct))
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrIndicatorMissing):
		m.indicator = nil
		m.noteMissing()
	default:
		m.logger.Error("progress indicator render failed", zap.Int("percentage", pct), zap.Error(err))
	}
	return false
}

func (m *Manager) noteMissing() {
	if m.missingLogged {
		return
	}
	m.missingLogged = true
	m.logger.Warn("progress bar elements not found")
}

func (m *Manager) emit(snap Snapshot) {
	if m.emitter == nil {
		return
	}
	evt := m.source.Event(progress.StageRendered, m.clock.Now())
	evt.Percentage = snap.Percentage
	evt.Filled = snap.FieldsFilled
	evt.Total = snap.FieldsTotal
	m.emitter.Emit(evt)
}
