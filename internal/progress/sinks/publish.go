package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/progress"
)

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the JSON payload published for selected events.
type Notification struct {
	SessionID    string    `json:"session_id"`
	Stage        string    `json:"stage"`
	FormID       string    `json:"form_id"`
	UserID       string    `json:"user_id,omitempty"`
	Percentage   int       `json:"percentage"`
	FieldsLoaded int       `json:"fields_loaded,omitempty"`
	Bytes        int64     `json:"bytes,omitempty"`
	Note         string    `json:"note,omitempty"`
	At           time.Time `json:"at"`
}

// PublishSink forwards save, restore and close events to a topic so
// downstream reviewers learn about submissions in progress. Renders are not
// published.
type PublishSink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink builds a PublishSink for topic.
func NewPublishSink(pub Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes each eligible event, stopping at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSaveCommitted, progress.StageSaveFailed, progress.StageRestored, progress.StageSessionClose:
		default:
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, toNotification(evt))
		if err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
		s.logger.Debug("progress notification published", zap.String("message_id", id), zap.String("stage", string(evt.Stage)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

func toNotification(evt progress.Event) Notification {
	return Notification{
		SessionID:    evt.SessionUUID().String(),
		Stage:        string(evt.Stage),
		FormID:       evt.FormID,
		UserID:       evt.UserID,
		Percentage:   evt.Percentage,
		FieldsLoaded: evt.FieldsLoaded,
		Bytes:        evt.Bytes,
		Note:         evt.Note,
		At:           evt.TS,
	}
}
