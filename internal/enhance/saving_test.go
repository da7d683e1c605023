package enhance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/onboard-forms/internal/schedule"
)

func TestSavingIndicatorHidesAfterDelay(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual()
	var transitions []bool
	ind := NewSavingIndicator(sched, WithObserver(func(v bool) { transitions = append(transitions, v) }))

	ind.ShowSavingIndicator()
	require.True(t, ind.Visible())
	sched.Advance(1499 * time.Millisecond)
	require.True(t, ind.Visible())
	sched.Advance(time.Millisecond)
	require.False(t, ind.Visible())
	require.Equal(t, []bool{true, false}, transitions)
}

func TestSavingIndicatorRearms(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual()
	ind := NewSavingIndicator(sched, WithHideAfter(time.Second))

	ind.ShowSavingIndicator()
	sched.Advance(800 * time.Millisecond)
	ind.ShowSavingIndicator()
	sched.Advance(800 * time.Millisecond)
	require.True(t, ind.Visible())
	sched.Advance(200 * time.Millisecond)
	require.False(t, ind.Visible())
	require.Equal(t, 2, ind.Shows())
	require.Zero(t, sched.Pending())
}

func TestSavingIndicatorDestroy(t *testing.T) {
	t.Parallel()

	sched := schedule.NewManual()
	ind := NewSavingIndicator(sched)
	ind.ShowSavingIndicator()
	ind.Destroy()
	ind.Destroy()
	require.False(t, ind.Visible())
	require.Zero(t, sched.Pending())

	ind.ShowSavingIndicator()
	require.False(t, ind.Visible())
	require.Equal(t, 1, ind.Shows())
}
