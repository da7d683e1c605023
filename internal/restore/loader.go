package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/codec"
	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
	"github.com/JakeFAU/onboard-forms/internal/storage"
)

// DefaultResumeDelay is how long the flag stays raised after values are applied.
const DefaultResumeDelay = 100 * time.Millisecond

var (
	// ErrNotSignedIn is returned when no user id is available.
	ErrNotSignedIn = errors.New("please log in to load your saved progress")
	// ErrNoSavedProgress is returned when the store holds nothing for the user.
	ErrNoSavedProgress = errors.New("no saved progress found")
)

// Refresher recalculates progress once the restore has settled.
type Refresher interface {
	UpdateProgress()
}

// Result summarises a completed load.
type Result struct {
	FieldsLoaded int `json:"fields_loaded"`
}

// Config wires a Loader.
//   - Form, Store, Flag, and Scheduler are required.
//   - Refresher is optional; without it the flag simply drops.
//   - UserID is read on every Load so callers may sign in later.
type Config struct {
	Form        *form.Form
	Store       storage.Store
	Flag        *Flag
	Scheduler   schedule.Scheduler
	Refresher   Refresher
	UserID      func() string
	ResumeDelay time.Duration
	Logger      *zap.Logger
	Events      progress.Emitter
	Source      progress.Source
	Clock       clock.Clock
}

// Loader restores saved state into a form.
type Loader struct {
	cfg     Config
	logger  *zap.Logger
	pending []schedule.Timer
}

// NewLoader validates cfg and builds a Loader.
func NewLoader(cfg Config) (*Loader, error) {
	switch {
	case cfg.Form == nil:
		return nil, fmt.Errorf("restore: form is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("restore: store is required")
	case cfg.Flag == nil:
		return nil, fmt.Errorf("restore: flag is required")
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("restore: scheduler is required")
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = DefaultResumeDelay
	}
	if cfg.UserID == nil {
		cfg.UserID = func() string { return "" }
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		cfg:    cfg,
		logger: logger.Named("restore").With(zap.String("form_id", cfg.Form.ID())),
	}, nil
}

// Load reads the user's saved state and applies it to the form.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	userID := l.cfg.UserID()
	if userID == "" {
		return Result{}, ErrNotSignedIn
	}
	data, err := l.cfg.Store.Get(ctx, storage.Key(l.cfg.Form.ID(), userID))
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNoSavedProgress
	}
	if err != nil {
		return Result{}, fmt.Errorf("read saved progress: %w", err)
	}
	state, err := codec.Decode(data)
	if errors.Is(err, codec.ErrEmptyPayload) {
		return Result{}, ErrNoSavedProgress
	}
	if err != nil {
		l.logger.Error("error loading saved progress", zap.Error(err))
		return Result{}, fmt.Errorf("load saved progress: %w", err)
	}

	l.cfg.Flag.Suspend()
	loaded := Apply(l.cfg.Form, state)

	var timer schedule.Timer
	timer = l.cfg.Scheduler.AfterFunc(l.cfg.ResumeDelay, func() {
		l.forget(timer)
		l.cfg.Flag.Resume()
		if l.cfg.Refresher != nil {
			l.cfg.Refresher.UpdateProgress()
		}
	})
	l.pending = append(l.pending, timer)

	evt := l.cfg.Source.Event(progress.StageRestored, l.cfg.Clock.Now())
	evt.FieldsLoaded = loaded
	progress.Emit(l.cfg.Events, evt)

	l.logger.Info("form progress loaded", zap.Int("fields_restored", loaded))
	return Result{FieldsLoaded: loaded}, nil
}

// Resuming reports whether a resume is still scheduled.
func (l *Loader) Resuming() bool {
	return len(l.pending) > 0
}

// Close cancels scheduled resumes and lowers the flag for each, without
// refreshing progress.
func (l *Loader) Close() {
	for _, t := range l.pending {
		if t.Stop() {
			l.cfg.Flag.Resume()
		}
	}
	l.pending = nil
}

func (l *Loader) forget(t schedule.Timer) {
	for i, p := range l.pending {
		if p == t {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}
