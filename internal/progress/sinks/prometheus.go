package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/onboard-forms/internal/progress"
)

// PrometheusSink exports session activity via Prometheus collectors.
type PrometheusSink struct {
	sessionsOpened  *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionLifetime prometheus.Histogram

	renders    *prometheus.CounterVec
	completion *prometheus.HistogramVec

	saves        *prometheus.CounterVec
	saveBytes    *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec

	restoredFields *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_sessions_opened_total",
			Help: "Form sessions opened partitioned by form.",
		}, []string{"form"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_sessions_active",
			Help: "Form sessions currently open.",
		}),
		sessionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboard_session_lifetime_seconds",
			Help:    "Wall time between session open and close.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_progress_renders_total",
			Help: "Progress indicator writes partitioned by form.",
		}, []string{"form"}),
		completion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_progress_percentage",
			Help:    "Rendered completion percentages partitioned by form.",
			Buckets: []float64{10, 25, 50, 75, 90, 100},
		}, []string{"form"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_autosaves_total",
			Help: "Autosave attempts partitioned by form and result.",
		}, []string{"form", "result"}),
		saveBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_autosave_bytes_total",
			Help: "Serialized bytes committed per form.",
		}, []string{"form"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_autosave_duration_seconds",
			Help:    "Autosave latency partitioned by result.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"result"}),
		restoredFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_restored_fields_total",
			Help: "Fields applied from saved progress per form.",
		}, []string{"form"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsOpened,
		s.sessionsActive,
		s.sessionLifetime,
		s.renders,
		s.completion,
		s.saves,
		s.saveBytes,
		s.saveDuration,
		s.restoredFields,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	form := evt.FormID
	switch evt.Stage {
	case progress.StageSessionOpen:
		s.sessionsOpened.WithLabelValues(form).Inc()
		if s.tracker.open(evt.SessionID) {
			s.sessionsActive.Inc()
		}
	case progress.StageSessionClose:
		if s.tracker.close(evt.SessionID) {
			s.sessionsActive.Dec()
		}
		if evt.Dur > 0 {
			s.sessionLifetime.Observe(evt.Dur.Seconds())
		}
	case progress.StageRendered:
		s.renders.WithLabelValues(form).Inc()
		s.completion.WithLabelValues(form).Observe(float64(evt.Percentage))
	case progress.StageSaveCommitted:
		s.saves.WithLabelValues(form, "success").Inc()
		if evt.Bytes > 0 {
			s.saveBytes.WithLabelValues(form).Add(float64(evt.Bytes))
		}
		s.observeSave(evt, "success")
	case progress.StageSaveFailed:
		s.saves.WithLabelValues(form, "error").Inc()
		s.observeSave(evt, "error")
	case progress.StageRestored:
		if evt.FieldsLoaded > 0 {
			s.restoredFields.WithLabelValues(form).Add(float64(evt.FieldsLoaded))
		}
	}
}

func (s *PrometheusSink) observeSave(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.saveDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu   sync.Mutex
	live map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{live: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) open(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; ok {
		return false
	}
	t.live[id] = struct{}{}
	return true
}

func (t *sessionTracker) close(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}
