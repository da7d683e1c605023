package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progressbar"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

type suspension struct{ on bool }

func (s *suspension) IsSuspended() bool { return s.on }

type savingIndicator struct{ shown int }

func (s *savingIndicator) ShowSavingIndicator() { s.shown++ }

type fixture struct {
	sched    *schedule.Manual
	form     *form.Form
	renders  *progressbar.Recorder
	manager  *progressbar.Manager
	saving   *savingIndicator
	suspend  *suspension
	saved    []form.State
	saveErr  error
	coord    *Coordinator
	fullName *form.Control
}

func newFixture(t *testing.T, opts ...schedule.ManualOption) *fixture {
	t.Helper()
	fx := &fixture{
		sched: schedule.NewManual(opts...),
		form: form.New("volunteer",
			&form.Control{Name: "fullName", Type: form.TypeText},
			&form.Control{Name: "consent", Type: form.TypeCheckbox, Value: "terms"},
			&form.Control{Name: "consent", Type: form.TypeCheckbox, Value: "privacy"},
			&form.Control{Name: "contactMethod", Type: form.TypeRadio, Value: "email"},
			&form.Control{Name: "contactMethod", Type: form.TypeRadio, Value: "phone"},
			&form.Control{Name: "send", Type: form.TypeButton},
		),
		renders: &progressbar.Recorder{},
		saving:  &savingIndicator{},
		suspend: &suspension{},
	}
	fx.fullName = fx.form.Named("fullName")[0]
	fx.manager = progressbar.New(fx.form, fx.renders, progressbar.WithSuspension(fx.suspend))
	save := func(context.Context) error {
		if fx.saveErr != nil {
			return fx.saveErr
		}
		fx.saved = append(fx.saved, form.Collect(fx.form))
		return nil
	}
	fx.coord = New(fx.sched, fx.form, save, fx.manager, fx.saving, WithSuspension(fx.suspend))
	return fx
}

// visualWrites excludes the initial 0% render done by the manager.
func (fx *fixture) visualWrites() int {
	return fx.renders.Len() - 1
}

func TestCoordinatorBurstConvergesToOneUpdateAndOneSave(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	for _, v := range []string{"A", "Ad", "Ada", "Ada ", "Ada L"} {
		fx.form.SetValue(fx.fullName, v)
		fx.sched.Advance(40 * time.Millisecond)
	}
	require.Zero(t, fx.visualWrites())

	fx.sched.Advance(DefaultProgressDelay + schedule.DefaultFrameInterval)
	require.Equal(t, 1, fx.visualWrites())
	require.Empty(t, fx.saved, "the save path is slower than the visual path")

	fx.sched.Flush(5 * time.Second)
	require.Equal(t, 1, fx.visualWrites())
	require.Len(t, fx.saved, 1)
	require.Equal(t, form.String("Ada L"), fx.saved[0]["fullName"])
	require.Equal(t, 1, fx.saving.shown)
	require.Zero(t, fx.sched.Pending())
	require.Equal(t, Stats{Cycles: 1, Saves: 1}, fx.coord.Stats())
}

func TestCoordinatorSaveTimingIsIndependent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	fx.sched.Advance(DefaultSaveDelay - time.Millisecond)
	require.Equal(t, 1, fx.visualWrites())
	require.Empty(t, fx.saved)
	fx.sched.Advance(time.Millisecond)
	require.Len(t, fx.saved, 1)
}

func TestCoordinatorEventsDuringCycleCollapseIntoOneFollowUp(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	fx.sched.Advance(DefaultProgressDelay)
	require.True(t, fx.coord.Processing())

	fx.sched.Advance(5 * time.Millisecond)
	fx.form.Click(fx.form.Named("contactMethod")[0])
	fx.form.SetValue(fx.fullName, "Ada L")
	require.True(t, fx.coord.Pending())

	// The settle timer of the click fires at 165ms, still inside the cycle.
	fx.sched.Advance(schedule.DefaultFrameInterval - 5*time.Millisecond)
	require.False(t, fx.coord.Processing())
	require.False(t, fx.coord.Pending())
	require.Equal(t, 1, fx.visualWrites())
	require.Equal(t, 67, fx.manager.GetCurrentProgress(), "the frame reads live state")

	fx.sched.Advance(DefaultFollowUp + schedule.DefaultFrameInterval)
	require.Equal(t, 1, fx.visualWrites(), "the follow-up finds nothing new to render")

	stats := fx.coord.Stats()
	require.EqualValues(t, 2, stats.Cycles)
	require.EqualValues(t, 1, stats.FollowUps)
	require.EqualValues(t, 4, stats.Coalesced)
}

func TestCoordinatorFollowUpRunsOncePerCycle(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual()
	f := form.New("x", &form.Control{Name: "a", Type: form.TypeText})
	field := f.Named("a")[0]
	calls := 0
	c := New(sched, f, nil, updaterFunc(func() { calls++ }), nil)

	f.SetValue(field, "1")
	sched.Advance(DefaultProgressDelay)
	for i := 0; i < 10; i++ {
		f.SetValue(field, "burst")
	}
	sched.Flush(time.Second)
	require.Equal(t, 2, calls)
	require.EqualValues(t, 1, c.Stats().FollowUps)
	require.EqualValues(t, 20, c.Stats().Coalesced)
}

func TestCoordinatorClickSettlesBeforeHandling(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	box := fx.form.Named("consent")[0]
	box.Checked = true
	fx.form.Dispatch(form.Event{Type: form.EventClick, Target: box})
	fx.form.Dispatch(form.Event{Type: form.EventClick, Target: fx.form.Named("send")[0]})
	require.Equal(t, 1, fx.sched.Pending(), "only the toggle click arms a settle timer")

	fx.sched.Advance(DefaultClickSettle + DefaultProgressDelay + schedule.DefaultFrameInterval - time.Millisecond)
	require.Zero(t, fx.visualWrites())
	fx.sched.Advance(time.Millisecond)
	require.Equal(t, 33, fx.manager.GetCurrentProgress())
}

func TestCoordinatorSuppressedWhileRestoring(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.suspend.on = true
	for i := 0; i < 50; i++ {
		fx.form.SetValue(fx.fullName, "x")
		fx.form.Click(fx.form.Named("consent")[i%2])
	}
	fx.sched.Flush(10 * time.Second)
	require.Zero(t, fx.visualWrites())
	require.Empty(t, fx.saved)
	require.False(t, fx.coord.Pending())
}

func TestCoordinatorTimersArmedBeforeRestoreDoNotFireDuringIt(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	fx.suspend.on = true
	fx.sched.Flush(10 * time.Second)
	require.Zero(t, fx.visualWrites())
	require.Empty(t, fx.saved)
}

func TestCoordinatorDestroyLeavesNoCallbacks(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	fx.form.Click(fx.form.Named("consent")[0])
	fx.sched.Advance(DefaultProgressDelay + DefaultClickSettle)
	require.True(t, fx.coord.Processing())
	require.NotZero(t, fx.sched.Pending())

	fx.coord.Destroy()
	fx.coord.Destroy()
	require.Zero(t, fx.sched.Pending())
	require.Zero(t, fx.form.ListenerCount(form.EventInput))
	require.Zero(t, fx.form.ListenerCount(form.EventChange))
	require.Zero(t, fx.form.ListenerCount(form.EventClick))

	fx.form.SetValue(fx.fullName, "Ada L")
	fx.sched.Flush(10 * time.Second)
	require.Zero(t, fx.visualWrites())
	require.Empty(t, fx.saved)
	require.NoError(t, fx.coord.ForceUpdate(context.Background()))
	require.Empty(t, fx.saved)
	require.True(t, fx.coord.Destroyed())
}

func TestCoordinatorForceUpdateBypassesDebounce(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	require.NoError(t, fx.coord.ForceUpdate(context.Background()))
	require.Len(t, fx.saved, 1, "force update saves immediately")
	require.Zero(t, fx.saving.shown)

	fx.sched.Advance(schedule.DefaultFrameInterval)
	require.Equal(t, 1, fx.visualWrites())

	fx.sched.Flush(10 * time.Second)
	require.Len(t, fx.saved, 1, "the debounced save was cancelled")
	require.Equal(t, 1, fx.visualWrites())
}

func TestCoordinatorForceUpdateResetsProcessing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")
	fx.sched.Advance(DefaultProgressDelay)
	require.True(t, fx.coord.Processing())

	require.NoError(t, fx.coord.ForceUpdate(context.Background()))
	fx.sched.Flush(10 * time.Second)
	require.Equal(t, 1, fx.visualWrites())
	require.EqualValues(t, 1, fx.coord.Stats().Cycles, "the stale frame is replaced, not run twice")
}

func TestCoordinatorSaveFailureIsLoggedNotRetried(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	fx := newFixture(t)
	fx.coord.Destroy()
	fx.coord = New(fx.sched, fx.form, func(context.Context) error {
		return errors.New("quota exceeded")
	}, fx.manager, fx.saving, WithLogger(zap.New(core)))

	fx.form.SetValue(fx.fullName, "Ada")
	fx.sched.Flush(10 * time.Second)
	require.Equal(t, 1, fx.visualWrites(), "a failed save does not block the visual path")
	require.Zero(t, fx.saving.shown)
	require.Equal(t, 1, logs.FilterMessage("autosave failed").Len())
	require.EqualValues(t, 1, fx.coord.Stats().SaveErrors)

	require.Error(t, fx.coord.ForceUpdate(context.Background()))
}

func TestCoordinatorRecoversPanics(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(schedule.WithImmediateFrames())
	f := form.New("x", &form.Control{Name: "a", Type: form.TypeText})
	updates := 0
	c := New(sched, f, func(context.Context) error { panic("disk gone") }, updaterFunc(func() {
		updates++
		panic("layout")
	}), nil)

	f.SetValue(f.Named("a")[0], "1")
	require.NotPanics(t, func() { sched.Flush(time.Minute) })
	require.Equal(t, 1, updates)
	require.False(t, c.Processing())
	require.EqualValues(t, 1, c.Stats().SaveErrors)

	f.SetValue(f.Named("a")[0], "2")
	sched.Advance(DefaultProgressDelay)
	require.Equal(t, 2, updates, "immediate frames render synchronously")
}

func TestCoordinatorCustomDelays(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(schedule.WithImmediateFrames())
	f := form.New("x", &form.Control{Name: "a", Type: form.TypeText})
	updates, saves := 0, 0
	New(sched, f, func(context.Context) error { saves++; return nil }, updaterFunc(func() { updates++ }), nil,
		WithDelays(Delays{Progress: 5 * time.Millisecond, Save: 20 * time.Millisecond}))

	f.SetValue(f.Named("a")[0], "1")
	sched.Advance(5 * time.Millisecond)
	require.Equal(t, 1, updates)
	sched.Advance(15 * time.Millisecond)
	require.Equal(t, 1, saves)
}

type updaterFunc func()

func (f updaterFunc) UpdateProgressDirect() { f() }

type queuedCommit struct {
	commit Commit
	done   func(error)
}

func TestCoordinatorAsyncSaveReportsOnCompletion(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	var queue []queuedCommit
	prepare := func() (Commit, error) {
		state := form.Collect(fx.form)
		return func(context.Context) error {
			fx.saved = append(fx.saved, state)
			return nil
		}, nil
	}
	fx.coord.Destroy()
	fx.coord = New(fx.sched, fx.form, nil, fx.manager, fx.saving,
		WithAsyncSave(prepare, func(commit Commit, done func(error)) {
			queue = append(queue, queuedCommit{commit: commit, done: done})
		}))

	fx.form.SetValue(fx.fullName, "Ada")
	fx.sched.Flush(5 * time.Second)
	require.Len(t, queue, 1)
	require.Empty(t, fx.saved, "the commit runs only when the dispatcher runs it")
	require.Equal(t, 1, fx.coord.SavesInFlight())
	require.Zero(t, fx.coord.Stats().Saves)
	require.Zero(t, fx.saving.shown)

	fx.form.SetValue(fx.fullName, "Grace")
	err := queue[0].commit(context.Background())
	queue[0].done(err)
	require.NoError(t, err)
	require.Equal(t, form.String("Ada"), fx.saved[0]["fullName"], "the commit writes the snapshot")
	require.Zero(t, fx.coord.SavesInFlight())
	require.EqualValues(t, 1, fx.coord.Stats().Saves)
	require.Equal(t, 1, fx.saving.shown)
}

func TestCoordinatorAsyncSaveFailureAndPanicCounted(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual(schedule.WithImmediateFrames())
	f := form.New("x", &form.Control{Name: "a", Type: form.TypeText})
	saving := &savingIndicator{}
	calls := 0
	c := New(sched, f, nil, nil, saving, WithAsyncSave(func() (Commit, error) {
		calls++
		if calls == 1 {
			return func(context.Context) error { return errors.New("timeout") }, nil
		}
		return func(context.Context) error { panic("disk gone") }, nil
	}, func(commit Commit, done func(error)) { done(commit(context.Background())) }))

	f.SetValue(f.Named("a")[0], "1")
	sched.Flush(time.Minute)
	f.SetValue(f.Named("a")[0], "2")
	require.NotPanics(t, func() { sched.Flush(time.Minute) })
	require.EqualValues(t, 2, c.Stats().SaveErrors)
	require.Zero(t, saving.shown)
}

func TestCoordinatorBeginFlushSplitsSnapshotAndRecord(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.form.SetValue(fx.fullName, "Ada")

	commit, done, err := fx.coord.BeginFlush()
	require.NoError(t, err)
	require.NotNil(t, commit)
	require.Equal(t, 1, fx.coord.SavesInFlight())
	fx.sched.Flush(5 * time.Second)
	require.Empty(t, fx.saved, "debounced save was cancelled")

	done(commit(context.Background()))
	require.Len(t, fx.saved, 1)
	require.EqualValues(t, 1, fx.coord.Stats().Saves)
	require.Zero(t, fx.coord.SavesInFlight())

	fx.coord.Destroy()
	commit, done, err = fx.coord.BeginFlush()
	require.NoError(t, err)
	require.Nil(t, commit)
	require.Nil(t, done)
}
