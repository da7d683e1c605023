package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/progress"
)

// LogSink writes every event as a structured log line. It is useful during
// development when no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("form_id", evt.FormID),
			zap.String("user_id", evt.UserID),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRendered:
			fields = append(fields,
				zap.Int("percentage", evt.Percentage),
				zap.Int("filled", evt.Filled),
				zap.Int("total", evt.Total),
			)
		case progress.StageSaveCommitted, progress.StageSaveFailed:
			fields = append(fields, zap.Int64("bytes", evt.Bytes), zap.Duration("dur", evt.Dur))
		case progress.StageRestored:
			fields = append(fields, zap.Int("fields_loaded", evt.FieldsLoaded))
		case progress.StageSessionClose:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageSaveFailed {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
