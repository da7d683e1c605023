package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/coordinator"
	idgen "github.com/JakeFAU/onboard-forms/internal/id/uuid"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
	"github.com/JakeFAU/onboard-forms/internal/storage"
)

// Defaults for Settings.
const (
	DefaultIdleTTL      = 30 * time.Minute
	DefaultReapSchedule = "@every 1m"
	DefaultMaxFields    = 500
	DefaultSaveTimeout  = 5 * time.Second
)

// Settings tune every session opened by a Registry.
type Settings struct {
	Delays       coordinator.Delays
	Exclusions   []string
	ResumeDelay  time.Duration
	HideAfter    time.Duration
	IdleTTL      time.Duration
	ReapSchedule string
	MaxFields    int
	// SaveTimeout bounds each store write.
	SaveTimeout time.Duration
}

// Config wires a Registry. Executor and Store are required.
type Config struct {
	Executor    schedule.Executor
	Store       storage.Store
	Events      progress.Emitter
	IDs         idgen.Generator
	Clock       clock.Clock
	Logger      *zap.Logger
	BaseContext context.Context
	Settings    Settings
	// OnReap, when set, is called after every scheduled reap with the
	// number of sessions closed and the number still open.
	OnReap func(reaped, live int)
}

// Registry tracks open sessions and reaps idle ones.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	cronMu sync.Mutex
	cron   *cron.Cron

	writes sync.WaitGroup
}

// NewRegistry validates cfg and builds a Registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("session: executor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.V7{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Settings.IdleTTL <= 0 {
		cfg.Settings.IdleTTL = DefaultIdleTTL
	}
	if cfg.Settings.ReapSchedule == "" {
		cfg.Settings.ReapSchedule = DefaultReapSchedule
	}
	if cfg.Settings.MaxFields <= 0 {
		cfg.Settings.MaxFields = DefaultMaxFields
	}
	if cfg.Settings.SaveTimeout <= 0 {
		cfg.Settings.SaveTimeout = DefaultSaveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.Named("sessions"),
		sessions: make(map[uuid.UUID]*Session),
	}, nil
}

// Open creates a session for req.
func (r *Registry) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	f, err := req.build(r.cfg.Settings.MaxFields)
	if err != nil {
		return nil, err
	}
	id, err := r.cfg.IDs.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("new session id: %w", err)
	}
	s := &Session{
		id:     id,
		formID: f.ID(),
		userID: req.UserID,
		reg:    r,
		form:   f,
		logger: r.logger.With(
			zap.String("session_id", id.String()),
			zap.String("form_id", f.ID()),
			zap.String("user_id", req.UserID),
		),
	}
	var buildErr error
	err = r.cfg.Executor.Do(ctx, func() {
		s.openedAt = r.cfg.Clock.Now()
		s.lastActive = s.openedAt
		progress.Emit(r.cfg.Events, progress.Source{
			SessionID: progress.UUIDToBytes(id), FormID: s.formID, UserID: s.userID,
		}.Event(progress.StageSessionOpen, s.openedAt))
		buildErr = s.build()
	})
	if err != nil {
		return nil, err
	}
	if buildErr != nil {
		return nil, buildErr
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	s.logger.Info("session opened", zap.Int("fields", len(f.Controls())))
	return s, nil
}

// Get returns an open session.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) saveContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.cfg.Settings.SaveTimeout)
}

// Close saves a session's pending edits, destroys it and forgets it. A failed
// final save is logged and does not keep the session open.
func (r *Registry) Close(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := s.Flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("final save before close failed", zap.Error(err))
	}
	if err := r.cfg.Executor.Do(ctx, func() { s.destroy() }); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	return nil
}

// Reap closes sessions idle for at least IdleTTL and returns how many.
func (r *Registry) Reap(ctx context.Context) int {
	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	var reaped int
	for _, s := range candidates {
		idle, err := s.idle(ctx)
		if err != nil {
			r.logger.Warn("reap idle check failed", zap.Error(err))
			return reaped
		}
		if idle < r.cfg.Settings.IdleTTL {
			continue
		}
		if err := r.Close(ctx, s.id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn("reap close failed", zap.String("session_id", s.id.String()), zap.Error(err))
			continue
		}
		reaped++
	}
	if reaped > 0 {
		r.logger.Info("reaped idle sessions", zap.Int("count", reaped))
	}
	return reaped
}

// Start runs Reap on the configured cron schedule.
func (r *Registry) Start() error {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("session reaper already running")
	}
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Settings.ReapSchedule, func() {
		reaped := r.Reap(r.cfg.BaseContext)
		if r.cfg.OnReap != nil {
			r.cfg.OnReap(reaped, r.Len())
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper %q: %w", r.cfg.Settings.ReapSchedule, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Shutdown stops the reaper and closes every session.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cronMu.Lock()
	if r.cron != nil {
		stopped := r.cron.Stop()
		r.cron = nil
		r.cronMu.Unlock()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			return fmt.Errorf("stop reaper: %w", ctx.Err())
		}
	} else {
		r.cronMu.Unlock()
	}

	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := r.waitWrites(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// waitWrites blocks until every dispatched autosave write has returned.
func (r *Registry) waitWrites(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for autosave writes: %w", ctx.Err())
	}
}
