// Package coordinator owns the single subscription to a form's events and
// turns bursts of edits into two debounced streams: a fast visual refresh run
// on a render tick, and a slower persistence commit. At most one refresh
// cycle is in flight; events that arrive during a cycle collapse into one
// follow-up pass.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

// Default delays.
const (
	DefaultProgressDelay = 150 * time.Millisecond
	DefaultSaveDelay     = 800 * time.Millisecond
	DefaultClickSettle   = 10 * time.Millisecond
	DefaultFollowUp      = 50 * time.Millisecond
)

// ProgressUpdater is the visual update target. progressbar.Manager
// implements it.
type ProgressUpdater interface {
	UpdateProgressDirect()
}

// SavingIndicator shows transient "saving" feedback after a commit.
type SavingIndicator interface {
	ShowSavingIndicator()
}

// Suspension reports whether a bulk restore is in progress.
type Suspension interface {
	IsSuspended() bool
}

// SaveFunc commits the current form state.
type SaveFunc func(ctx context.Context) error

// Commit writes a snapshot taken on the scheduler goroutine. It may run on
// any goroutine.
type Commit func(ctx context.Context) error

// PrepareFunc snapshots the form on the scheduler goroutine. A nil Commit
// means there is nothing to write.
type PrepareFunc func() (Commit, error)

// Dispatcher runs commit away from the scheduler goroutine and hands its
// result to done on the scheduler goroutine.
type Dispatcher func(commit Commit, done func(error))

// Delays groups the scheduling intervals.
type Delays struct {
	Progress    time.Duration
	Save        time.Duration
	ClickSettle time.Duration
	FollowUp    time.Duration
}

// DefaultDelays returns the production intervals.
func DefaultDelays() Delays {
	return Delays{
		Progress:    DefaultProgressDelay,
		Save:        DefaultSaveDelay,
		ClickSettle: DefaultClickSettle,
		FollowUp:    DefaultFollowUp,
	}
}

func (d Delays) withDefaults() Delays {
	def := DefaultDelays()
	if d.Progress <= 0 {
		d.Progress = def.Progress
	}
	if d.Save <= 0 {
		d.Save = def.Save
	}
	if d.ClickSettle <= 0 {
		d.ClickSettle = def.ClickSettle
	}
	if d.FollowUp <= 0 {
		d.FollowUp = def.FollowUp
	}
	return d
}

// Stats counts coordinator activity.
type Stats struct {
	Cycles     int64 `json:"cycles"`
	Coalesced  int64 `json:"coalesced"`
	FollowUps  int64 `json:"follow_ups"`
	Saves      int64 `json:"saves"`
	SaveErrors int64 `json:"save_errors"`
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithDelays overrides the scheduling intervals; zero fields keep defaults.
func WithDelays(d Delays) Option {
	return func(c *Coordinator) {
		c.delays = d
	}
}

// WithSuspension pauses event handling while s reports suspended.
func WithSuspension(s Suspension) Option {
	return func(c *Coordinator) {
		c.suspension = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContext sets the context handed to debounced saves.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithAsyncSave splits debounced saves into a snapshot taken by prepare and a
// commit run by dispatch. The SaveFunc passed to New is ignored.
func WithAsyncSave(prepare PrepareFunc, dispatch Dispatcher) Option {
	return func(c *Coordinator) {
		c.prepare = prepare
		c.dispatch = dispatch
	}
}

// Coordinator sequences form events. It is not safe for concurrent use: every
// method and callback must run on the scheduler's goroutine.
type Coordinator struct {
	form         *form.Form
	sched        schedule.Scheduler
	save         SaveFunc
	prepare      PrepareFunc
	dispatch     Dispatcher
	updater      ProgressUpdater
	enhancements SavingIndicator
	suspension   Suspension
	delays       Delays
	logger       *zap.Logger
	ctx          context.Context

	progressTimer *schedule.Debouncer
	saveTimer     *schedule.Debouncer
	frame         schedule.Timer
	followUp      schedule.Timer
	settle        map[int]schedule.Timer
	nextSettle    int
	subs          []form.Subscription

	processing bool
	pending    bool
	destroyed  bool
	inFlight   int
	stats      Stats
}

// New subscribes a Coordinator to f. save, updater and enhancements may each
// be nil.
func New(
	sched schedule.Scheduler,
	f *form.Form,
	save SaveFunc,
	updater ProgressUpdater,
	enhancements SavingIndicator,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		form:         f,
		sched:        sched,
		save:         save,
		updater:      updater,
		enhancements: enhancements,
		logger:       zap.NewNop(),
		ctx:          context.Background(),
		settle:       make(map[int]schedule.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prepare == nil && save != nil {
		c.prepare = func() (Commit, error) { return Commit(save), nil }
	}
	if c.dispatch == nil {
		c.dispatch = func(commit Commit, done func(error)) { done(commit(c.ctx)) }
	}
	c.delays = c.delays.withDefaults()
	c.progressTimer = schedule.NewDebouncer(sched, c.delays.Progress)
	c.saveTimer = schedule.NewDebouncer(sched, c.delays.Save)
	c.subscribe()
	return c
}

func (c *Coordinator) subscribe() {
	if c.form == nil {
		return
	}
	c.subs = append(c.subs,
		c.form.AddListener(form.EventInput, c.handleEvent),
		c.form.AddListener(form.EventChange, c.handleEvent),
		c.form.AddListener(form.EventClick, c.handleClick),
	)
	c.logger.Debug("form listeners attached", zap.String("form_id", c.form.ID()))
}

func (c *Coordinator) handleClick(evt form.Event) {
	if evt.Target == nil || !evt.Target.Type.IsToggle() {
		return
	}
	c.nextSettle++
	id := c.nextSettle
	c.settle[id] = c.sched.AfterFunc(c.delays.ClickSettle, func() {
		delete(c.settle, id)
		c.handleEvent(evt)
	})
}

func (c *Coordinator) handleEvent(form.Event) {
	if c.destroyed {
		return
	}
	if c.processing {
		c.pending = true
		c.stats.Coalesced++
		return
	}
	if c.suspended() {
		return
	}
	c.progressTimer.Trigger(c.coordinatedUpdate)
	c.saveTimer.Trigger(c.debouncedSave)
}

func (c *Coordinator) coordinatedUpdate() {
	if c.destroyed {
		return
	}
	if c.processing {
		c.pending = true
		return
	}
	c.processing = true
	if c.frame != nil {
		c.frame.Stop()
	}
	c.frame = c.sched.NextFrame(c.runFrame)
}

func (c *Coordinator) runFrame() {
	c.frame = nil
	defer c.finishCycle()
	if c.updater == nil || c.suspended() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("error in coordinated update", zap.Any("panic", rec))
		}
	}()
	c.updater.UpdateProgressDirect()
}

func (c *Coordinator) finishCycle() {
	c.processing = false
	c.stats.Cycles++
	if !c.pending || c.destroyed {
		return
	}
	c.pending = false
	c.stats.FollowUps++
	if c.followUp != nil {
		c.followUp.Stop()
	}
	c.followUp = c.sched.AfterFunc(c.delays.FollowUp, func() {
		c.followUp = nil
		c.coordinatedUpdate()
	})
}

func (c *Coordinator) debouncedSave() {
	if c.destroyed || c.suspended() || c.prepare == nil {
		return
	}
	commit, err := c.snapshot()
	if err != nil {
		c.recordSave(err)
		return
	}
	if commit == nil {
		return
	}
	c.inFlight++
	c.dispatch(guarded(commit), func(err error) {
		c.inFlight--
		c.recordSave(err)
		if err == nil && !c.destroyed && c.enhancements != nil {
			c.enhancements.ShowSavingIndicator()
		}
	})
}

func (c *Coordinator) snapshot() (commit Commit, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			commit, err = nil, fmt.Errorf("save callback panicked: %v", rec)
		}
	}()
	return c.prepare()
}

func guarded(commit Commit) Commit {
	return func(ctx context.Context) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("save callback panicked: %v", rec)
			}
		}()
		return commit(ctx)
	}
}

func (c *Coordinator) recordSave(err error) {
	if err != nil {
		c.stats.SaveErrors++
		c.logger.Warn("autosave failed", zap.Error(err))
		return
	}
	c.stats.Saves++
}

// ForceUpdate cancels both debounce timers, runs one coordinated update and
// saves immediately on the calling goroutine. It returns the save error, if
// any.
func (c *Coordinator) ForceUpdate(ctx context.Context) error {
	commit, done, err := c.BeginFlush()
	if err != nil || commit == nil {
		return err
	}
	if ctx == nil {
		ctx = c.ctx
	}
	err = commit(ctx)
	done(err)
	return err
}

// BeginFlush is ForceUpdate split for callers that write away from the
// scheduler goroutine. It cancels both debounce timers, runs one coordinated
// update and snapshots the form. The caller runs commit anywhere, then calls
// done with its result on the scheduler goroutine. A nil commit means there
// is nothing to write.
func (c *Coordinator) BeginFlush() (Commit, func(error), error) {
	if c.destroyed {
		return nil, nil, nil
	}
	c.progressTimer.Cancel()
	c.saveTimer.Cancel()
	c.processing = false
	c.coordinatedUpdate()
	if c.prepare == nil {
		return nil, nil, nil
	}
	commit, err := c.snapshot()
	if err != nil {
		c.recordSave(err)
		return nil, nil, err
	}
	if commit == nil {
		return nil, nil, nil
	}
	c.inFlight++
	return guarded(commit), func(err error) {
		c.inFlight--
		c.recordSave(err)
	}, nil
}

// Destroy releases every timer and the render tick request and detaches the
// form listeners. It is safe to call more than once.
func (c *Coordinator) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.progressTimer.Cancel()
	c.saveTimer.Cancel()
	for id, t := range c.settle {
		t.Stop()
		delete(c.settle, id)
	}
	if c.followUp != nil {
		c.followUp.Stop()
		c.followUp = nil
	}
	if c.frame != nil {
		c.frame.Stop()
		c.frame = nil
	}
	for _, sub := range c.subs {
		c.form.RemoveListener(sub)
	}
	c.subs = nil
	c.processing = false
	c.pending = false
	c.logger.Debug("form coordinator destroyed")
}

// Processing reports whether a cycle is waiting for its render tick.
func (c *Coordinator) Processing() bool {
	return c.processing
}

// Pending reports whether a follow-up cycle has been requested.
func (c *Coordinator) Pending() bool {
	return c.pending
}

// Destroyed reports whether Destroy has run.
func (c *Coordinator) Destroyed() bool {
	return c.destroyed
}

// SavesInFlight reports how many dispatched commits have not reported back.
func (c *Coordinator) SavesInFlight() int {
	return c.inFlight
}

// Stats returns activity counters.
func (c *Coordinator) Stats() Stats {
	return c.stats
}

func (c *Coordinator) suspended() bool {
	return c.suspension != nil && c.suspension.IsSuspended()
}
