// Package session hosts live onboarding form sessions. Each session owns a
// form, its progress bar, coordinator, autosaver and restore loader, and all
// of them run on the registry's executor.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/autosave"
	"github.com/JakeFAU/onboard-forms/internal/coordinator"
	"github.com/JakeFAU/onboard-forms/internal/enhance"
	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/progressbar"
	"github.com/JakeFAU/onboard-forms/internal/restore"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned when a session is used after Close.
	ErrClosed = errors.New("session closed")
	// ErrUnknownField is returned for inputs naming no control.
	ErrUnknownField = errors.New("unknown form field")
	// ErrReadOnly is returned for inputs targeting a read-only control.
	ErrReadOnly = errors.New("field is read-only")
	// ErrInvalidInput is returned for malformed inputs or open requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Session is one user editing one form.
type Session struct {
	id       uuid.UUID
	formID   string
	userID   string
	openedAt time.Time

	reg         *Registry
	logger      *zap.Logger
	form        *form.Form
	flag        *restore.Flag
	broadcaster *progressbar.Broadcaster
	manager     *progressbar.Manager
	coord       *coordinator.Coordinator
	loader      *restore.Loader
	saver       *autosave.Saver
	saving      *enhance.SavingIndicator

	lastActive time.Time
	closed     bool
}

// View is a point-in-time read of a session.
type View struct {
	SessionID    string               `json:"session_id"`
	FormID       string               `json:"form_id"`
	Snapshot     progressbar.Snapshot `json:"snapshot"`
	Rendered     int                  `json:"rendered"`
	Width        string               `json:"width"`
	Text         string               `json:"text"`
	Saving       bool                 `json:"saving"`
	Restoring    bool                 `json:"restoring"`
	ManagerState string               `json:"manager_state"`
	Stats        coordinator.Stats    `json:"stats"`
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// FormID returns the form the session edits.
func (s *Session) FormID() string { return s.formID }

// UserID returns the signed-in user, or "".
func (s *Session) UserID() string { return s.userID }

// OpenedAt returns the creation time.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

func (s *Session) build() error {
	cfg := s.reg.cfg
	set := cfg.Settings
	src := progress.Source{SessionID: progress.UUIDToBytes(s.id), FormID: s.formID, UserID: s.userID}
	userID := func() string { return s.userID }

	saver, err := autosave.New(autosave.Config{
		Form:   s.form,
		Store:  cfg.Store,
		UserID: userID,
		Logger: s.logger,
		Events: cfg.Events,
		Source: src,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return fmt.Errorf("build saver: %w", err)
	}
	s.saver = saver

	s.flag = &restore.Flag{}
	s.broadcaster = progressbar.NewBroadcaster()
	opts := []progressbar.Option{
		progressbar.WithSuspension(s.flag),
		progressbar.WithLogger(s.logger),
		progressbar.WithEvents(cfg.Events, src),
		progressbar.WithClock(cfg.Clock),
	}
	if set.Exclusions != nil {
		opts = append(opts, progressbar.WithExclusions(set.Exclusions))
	}
	s.manager = progressbar.New(s.form, s.broadcaster, opts...)
	s.saving = enhance.NewSavingIndicator(cfg.Executor, enhance.WithHideAfter(set.HideAfter))
	coordOpts := []coordinator.Option{
		coordinator.WithDelays(set.Delays),
		coordinator.WithSuspension(s.flag),
		coordinator.WithLogger(s.logger),
		coordinator.WithContext(cfg.BaseContext),
	}
	var dispatch coordinator.Dispatcher
	if poster, ok := cfg.Executor.(schedule.Poster); ok {
		dispatch = s.dispatchSave(poster)
	}
	coordOpts = append(coordOpts, coordinator.WithAsyncSave(s.prepareSave, dispatch))
	s.coord = coordinator.New(cfg.Executor, s.form, nil, s.manager, s.saving, coordOpts...)

	loader, err := restore.NewLoader(restore.Config{
		Form:        s.form,
		Store:       cfg.Store,
		Flag:        s.flag,
		Scheduler:   cfg.Executor,
		Refresher:   s.manager,
		UserID:      userID,
		ResumeDelay: set.ResumeDelay,
		Logger:      s.logger,
		Events:      cfg.Events,
		Source:      src,
		Clock:       cfg.Clock,
	})
	if err != nil {
		s.coord.Destroy()
		s.manager.Destroy()
		return fmt.Errorf("build loader: %w", err)
	}
	s.loader = loader
	return nil
}

func (s *Session) prepareSave() (coordinator.Commit, error) {
	write, err := s.saver.Prepare()
	if err != nil || write == nil {
		return nil, err
	}
	return write, nil
}

// dispatchSave runs store writes on their own goroutine so a slow backend
// never holds the shared executor. Results are posted back to it.
func (s *Session) dispatchSave(poster schedule.Poster) coordinator.Dispatcher {
	reg := s.reg
	return func(commit coordinator.Commit, done func(error)) {
		reg.writes.Add(1)
		go func() {
			defer reg.writes.Done()
			ctx, cancel := reg.saveContext(reg.cfg.BaseContext)
			err := commit(ctx)
			cancel()
			if !poster.Post(func() { done(err) }) {
				s.logger.Warn("autosave result dropped, executor closed", zap.Error(err))
			}
		}()
	}
}

// run executes fn on the executor, refusing closed sessions.
func (s *Session) run(ctx context.Context, fn func() error) error {
	var err error
	doErr := s.reg.cfg.Executor.Do(ctx, func() {
		if s.closed {
			err = ErrClosed
			return
		}
		s.lastActive = s.reg.cfg.Clock.Now()
		err = fn()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Apply feeds one user interaction into the form.
func (s *Session) Apply(ctx context.Context, in Input) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return s.run(ctx, func() error {
		return in.apply(s.form)
	})
}

// View reads the current progress state.
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.run(ctx, func() error {
		rendered := s.manager.GetCurrentProgress()
		r := progressbar.NewRender(rendered)
		v = View{
			SessionID:    s.id.String(),
			FormID:       s.formID,
			Snapshot:     s.manager.Snapshot(),
			Rendered:     rendered,
			Width:        r.Width,
			Text:         r.Text,
			Saving:       s.saving.Visible(),
			Restoring:    s.flag.IsSuspended(),
			ManagerState: s.manager.State(),
			Stats:        s.coord.Stats(),
		}
		return nil
	})
	return v, err
}

// Restore loads the user's saved progress into the form.
func (s *Session) Restore(ctx context.Context) (restore.Result, error) {
	var res restore.Result
	err := s.run(ctx, func() error {
		var err error
		res, err = s.loader.Load(ctx)
		return err
	})
	return res, err
}

// Flush renders and saves immediately. The store write runs on the calling
// goroutine, bounded by the save timeout.
func (s *Session) Flush(ctx context.Context) error {
	var (
		commit coordinator.Commit
		done   func(error)
	)
	if err := s.run(ctx, func() error {
		var err error
		commit, done, err = s.coord.BeginFlush()
		return err
	}); err != nil {
		return err
	}
	if commit == nil {
		return nil
	}
	wctx, cancel := s.reg.saveContext(ctx)
	saveErr := commit(wctx)
	cancel()
	if err := s.reg.cfg.Executor.Do(context.WithoutCancel(ctx), func() { done(saveErr) }); err != nil {
		s.logger.Warn("flush result dropped", zap.Error(err))
	}
	return saveErr
}

// Subscribe streams indicator renders, starting with the latest one.
func (s *Session) Subscribe(buffer int) (<-chan progressbar.Render, func()) {
	return s.broadcaster.Subscribe(buffer)
}

// idle reports how long the session has been inactive.
func (s *Session) idle(ctx context.Context) (time.Duration, error) {
	var d time.Duration
	err := s.reg.cfg.Executor.Do(ctx, func() {
		d = s.reg.cfg.Clock.Since(s.lastActive)
	})
	return d, err
}

// destroy tears the session down. It must run on the executor.
func (s *Session) destroy() bool {
	if s.closed {
		return false
	}
	s.closed = true
	s.coord.Destroy()
	s.manager.Destroy()
	s.loader.Close()
	s.saving.Destroy()
	s.broadcaster.Close()

	now := s.reg.cfg.Clock.Now()
	evt := progress.Source{SessionID: progress.UUIDToBytes(s.id), FormID: s.formID, UserID: s.userID}.
		Event(progress.StageSessionClose, now)
	evt.Dur = now.Sub(s.openedAt)
	progress.Emit(s.reg.cfg.Events, evt)
	s.logger.Info("session closed", zap.Duration("lifetime", evt.Dur))
	return true
}
