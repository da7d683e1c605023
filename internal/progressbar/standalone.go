package progressbar

import (
	"time"

	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

// Standalone delays used when no coordinator drives the manager.
const (
	DefaultStandaloneDelay  = 150 * time.Millisecond
	DefaultStandaloneSettle = 10 * time.Millisecond
)

type standalone struct {
	sched    schedule.Scheduler
	settle   time.Duration
	debounce *schedule.Debouncer
	subs     []form.Subscription
	pending  map[int]schedule.Timer
	nextID   int
}

// Attach makes the manager listen to the form itself, for pages that run the
// progress bar without a coordinator. Input and change events debounce into
// UpdateProgress; checkbox and radio clicks wait settle first. Attaching twice
// is a no-op.
func (m *Manager) Attach(sched schedule.Scheduler, delay, settle time.Duration) {
	if m.destroyed || m.standalone != nil || m.form == nil {
		return
	}
	if delay <= 0 {
		delay = DefaultStandaloneDelay
	}
	if settle <= 0 {
		settle = DefaultStandaloneSettle
	}
	s := &standalone{
		sched:    sched,
		settle:   settle,
		debounce: schedule.NewDebouncer(sched, delay),
		pending:  make(map[int]schedule.Timer),
	}
	m.standalone = s
	trigger := func(form.Event) { s.debounce.Trigger(m.UpdateProgress) }
	s.subs = append(s.subs,
		m.form.AddListener(form.EventInput, trigger),
		m.form.AddListener(form.EventChange, trigger),
		m.form.AddListener(form.EventClick, func(evt form.Event) {
			if evt.Target == nil || !evt.Target.Type.IsToggle() {
				return
			}
			s.nextID++
			id := s.nextID
			s.pending[id] = sched.AfterFunc(s.settle, func() {
				delete(s.pending, id)
				s.debounce.Trigger(m.UpdateProgress)
			})
		}),
	)
}

func (m *Manager) detach() {
	s := m.standalone
	if s == nil {
		return
	}
	s.debounce.Cancel()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	for _, sub := range s.subs {
		m.form.RemoveListener(sub)
	}
	s.subs = nil
}
