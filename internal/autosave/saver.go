// Package autosave persists collected form state to the key-value store.
package autosave

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/codec"
	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/storage"
)

const tracerName = "github.com/JakeFAU/onboard-forms/internal/autosave"

// Config wires a Saver. Form and Store are required.
type Config struct {
	Form   *form.Form
	Store  storage.Store
	UserID func() string
	Logger *zap.Logger
	Events progress.Emitter
	Source progress.Source
	Clock  clock.Clock
	Tracer trace.Tracer
}

// Saver writes the form's current values under formID_userID.
type Saver struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Saver.
func New(cfg Config) (*Saver, error) {
	if cfg.Form == nil {
		return nil, fmt.Errorf("autosave: form is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("autosave: store is required")
	}
	if cfg.UserID == nil {
		cfg.UserID = func() string { return "" }
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		cfg:    cfg,
		logger: logger.Named("autosave").With(zap.String("form_id", cfg.Form.ID())),
	}, nil
}

// Save collects, encodes, and stores the form state. It does nothing when no
// user is signed in.
func (s *Saver) Save(ctx context.Context) error {
	write, err := s.Prepare()
	if err != nil || write == nil {
		return err
	}
	return write(ctx)
}

// Prepare collects and encodes the form state and returns the store write
// for it. Prepare touches the form and must run where the form is owned; the
// returned write may run on any goroutine. Prepare returns a nil write when
// no user is signed in.
func (s *Saver) Prepare() (func(ctx context.Context) error, error) {
	userID := s.cfg.UserID()
	if userID == "" {
		s.logger.Debug("no user signed in, skipping autosave")
		return nil, nil
	}
	key := storage.Key(s.cfg.Form.ID(), userID)
	start := s.cfg.Clock.Now()
	data, err := codec.Encode(form.Collect(s.cfg.Form))
	if err != nil {
		s.failed(userID, s.cfg.Clock.Since(start), err)
		return nil, fmt.Errorf("save form progress: %w", err)
	}
	return func(ctx context.Context) error {
		return s.write(ctx, userID, key, data, start)
	}, nil
}

func (s *Saver) write(ctx context.Context, userID, key string, data []byte, start time.Time) error {
	ctx, span := s.cfg.Tracer.Start(ctx, "autosave.commit", trace.WithAttributes(
		attribute.String("form.id", s.cfg.Form.ID()),
		attribute.String("storage.key", key),
	))
	defer span.End()

	err := s.cfg.Store.Set(ctx, key, data)
	elapsed := s.cfg.Clock.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.failed(userID, elapsed, err)
		return fmt.Errorf("save form progress: %w", err)
	}

	span.SetAttributes(attribute.Int("payload.bytes", len(data)))
	evt := s.cfg.Source.Event(progress.StageSaveCommitted, s.cfg.Clock.Now())
	evt.UserID = userID
	evt.Bytes = int64(len(data))
	evt.Dur = elapsed
	progress.Emit(s.cfg.Events, evt)
	s.logger.Debug("form progress saved", zap.Int("bytes", len(data)), zap.Duration("took", elapsed))
	return nil
}

func (s *Saver) failed(userID string, elapsed time.Duration, err error) {
	evt := s.cfg.Source.Event(progress.StageSaveFailed, s.cfg.Clock.Now())
	evt.UserID = userID
	evt.Dur = elapsed
	evt.Note = err.Error()
	progress.Emit(s.cfg.Events, evt)
}
