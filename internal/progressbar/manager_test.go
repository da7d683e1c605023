package progressbar

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

type flag struct{ on bool }

func (f *flag) IsSuspended() bool { return f.on }

func TestManagerInitialisesIndicatorToZero(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	m := New(exampleForm(), rec)
	require.Equal(t, []Render{{Percentage: 0, Width: "0%", Text: "0% Complete"}}, rec.Renders())
	require.Equal(t, StateIdle, m.State())
	require.Zero(t, m.GetCurrentProgress())
}

func TestManagerSuppressesUnchangedRenders(t *testing.T) {
	t.Parallel()

	f := exampleForm()
	rec := &Recorder{}
	m := New(f, rec)
	f.Named("fullName")[0].Value = "Ada"
	baseline := rec.Len()

	m.UpdateProgress()
	m.UpdateProgress()
	require.Equal(t, baseline+1, rec.Len())
	last, _ := rec.Last()
	require.Equal(t, "33% Complete", last.Text)
	require.Equal(t, 33, m.GetCurrentProgress())
	require.Equal(t, Snapshot{Percentage: 33, FieldsFilled: 1, FieldsTotal: 3}, m.Snapshot())

	m.UpdateProgressDirect()
	require.Equal(t, baseline+1, rec.Len())
}

func TestManagerSkipsWhileSuspended(t *testing.T) {
	t.Parallel()

	f := exampleForm()
	rec := &Recorder{}
	suspension := &flag{on: true}
	m := New(f, rec, WithSuspension(suspension))
	f.Named("fullName")[0].Value = "Ada"

	m.UpdateProgress()
	m.UpdateProgressDirect()
	require.Equal(t, 1, rec.Len())

	m.ForceUpdate()
	require.Equal(t, 2, rec.Len())
	require.True(t, suspension.IsSuspended(), "force update must not clear the suspension")
	require.Equal(t, StateIdle, m.State())

	suspension.on = false
	f.Click(f.Named("contactMethod")[0])
	m.UpdateProgress()
	require.Equal(t, 67, m.GetCurrentProgress())
}

func TestManagerReentrantCallIsIgnored(t *testing.T) {
	t.Parallel()

	f := exampleForm()
	var m *Manager
	var states []string
	renders := 0
	m = New(f, IndicatorFunc(func(Render) error {
		renders++
		if m != nil {
			states = append(states, m.State())
			f.Named("fullName")[0].Value = ""
			m.UpdateProgress()
		}
		return nil
	}))
	f.Named("fullName")[0].Value = "Ada"
	m.UpdateProgress()

	require.Equal(t, 2, renders)
	require.Equal(t, []string{StateUpdating}, states)
	require.Equal(t, StateIdle, m.State())
	require.Equal(t, 33, m.GetCurrentProgress())
}

func TestManagerRecoversCalculationPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	f := exampleForm()
	rec := &Recorder{}
	calls := 0
	m := New(f, rec, WithLogger(zap.New(core)), WithCalculator(func(f *form.Form, ex []string) Snapshot {
		calls++
		if calls == 1 {
			panic("control vanished")
		}
		return Calculate(f, ex)
	}))
	f.Named("fullName")[0].Value = "Ada"

	require.NotPanics(t, m.UpdateProgress)
	require.Equal(t, StateIdle, m.State(), "guard must be released after a failure")
	require.Zero(t, m.GetCurrentProgress())
	require.Equal(t, 1, logs.FilterMessage("error updating progress").Len())

	m.UpdateProgress()
	require.Equal(t, 33, m.GetCurrentProgress())
}

func TestManagerDegradesWithoutIndicator(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	f := exampleForm()
	m := New(f, nil, WithLogger(zap.New(core)))
	f.Named("fullName")[0].Value = "Ada"
	m.UpdateProgress()
	m.UpdateProgress()
	m.Reset()
	require.Equal(t, 1, logs.FilterMessage("progress bar elements not found").Len())
	require.Zero(t, m.GetCurrentProgress())

	missing := 0
	core2, logs2 := observer.New(zap.WarnLevel)
	m2 := New(f, IndicatorFunc(func(Render) error {
		missing++
		return ErrIndicatorMissing
	}), WithLogger(zap.New(core2)))
	m2.UpdateProgress()
	m2.UpdateProgress()
	require.Equal(t, 1, missing, "a missing indicator is not retried")
	require.Equal(t, 1, logs2.Len())
}

func TestManagerRenderErrorKeepsPreviousPercentage(t *testing.T) {
	t.Parallel()

	f := exampleForm()
	fail := false
	m := New(f, IndicatorFunc(func(Render) error {
		if fail {
			return errors.New("detached")
		}
		return nil
	}))
	f.Named("fullName")[0].Value = "Ada"
	m.UpdateProgress()
	require.Equal(t, 33, m.GetCurrentProgress())

	fail = true
	f.Click(f.Named("contactMethod")[0])
	m.UpdateProgress()
	require.Equal(t, 33, m.GetCurrentProgress())
}

func TestManagerResetAndDestroy(t *testing.T) {
	t.Parallel()

	f := exampleForm()
	rec := &Recorder{}
	m := New(f, rec)
	f.Named("fullName")[0].Value = "Ada"
	m.UpdateProgress()

	m.Reset()
	last, _ := rec.Last()
	require.Equal(t, NewRender(0), last)
	require.Zero(t, m.GetCurrentProgress())

	m.Destroy()
	m.Destroy()
	before := rec.Len()
	m.UpdateProgress()
	m.ForceUpdate()
	m.Reset()
	require.Equal(t, before, rec.Len())
}

func TestManagerEmitsRenderEvents(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	var events []progress.Event
	src := progress.Source{SessionID: progress.UUIDToBytes(uuid.New()), FormID: "volunteer", UserID: "u1"}
	f := exampleForm()
	m := New(f, &Recorder{},
		WithEvents(progress.EmitterFunc(func(e progress.Event) { events = append(events, e) }), src),
		WithClock(mock),
	)
	f.Named("fullName")[0].Value = "Ada"
	m.UpdateProgress()
	m.UpdateProgress()

	require.Len(t, events, 1)
	require.Equal(t, progress.StageRendered, events[0].Stage)
	require.Equal(t, 33, events[0].Percentage)
	require.Equal(t, 3, events[0].Total)
	require.True(t, mock.Now().Equal(events[0].TS))
	require.NoError(t, events[0].Validate())
}

func TestManagerStandaloneMode(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual()
	f := exampleForm()
	rec := &Recorder{}
	m := New(f, rec)
	m.Attach(sched, 0, 0)
	m.Attach(sched, 0, 0)
	require.Equal(t, 1, f.ListenerCount(form.EventInput))

	for _, v := range []string{"A", "Ad", "Ada"} {
		f.SetValue(f.Named("fullName")[0], v)
		sched.Advance(50 * time.Millisecond)
	}
	require.Equal(t, 1, rec.Len())
	sched.Advance(DefaultStandaloneDelay)
	require.Equal(t, 2, rec.Len())

	f.Click(f.Named("consent")[0])
	sched.Advance(DefaultStandaloneSettle + DefaultStandaloneDelay - time.Millisecond)
	require.Equal(t, 2, rec.Len())
	sched.Advance(time.Millisecond)
	require.Equal(t, 67, m.GetCurrentProgress())

	f.Click(f.Named("contactMethod")[0])
	m.Destroy()
	sched.Flush(time.Second)
	require.Zero(t, sched.Pending())
	require.Zero(t, f.ListenerCount(form.EventClick))
	require.Equal(t, 67, m.GetCurrentProgress())
}
