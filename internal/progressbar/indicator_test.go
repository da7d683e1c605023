package progressbar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterFansOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	require.NoError(t, b.Render(NewRender(10)))

	ch, cancel := b.Subscribe(4)
	require.Equal(t, NewRender(10), <-ch, "subscribers are primed with the latest render")

	require.NoError(t, b.Render(NewRender(20)))
	require.Equal(t, 20, (<-ch).Percentage)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, b.Subscribers())
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Render(NewRender(i*10)))
	}
	require.Equal(t, 10, (<-ch).Percentage)
	require.Empty(t, ch)

	b.Close()
	_, open := <-ch
	require.False(t, open)
	late, _ := b.Subscribe(1)
	_, open = <-late
	require.False(t, open)
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	m := Multi{rec, nil, IndicatorFunc(func(Render) error { return ErrIndicatorMissing })}
	err := m.Render(NewRender(42))
	require.True(t, errors.Is(err, ErrIndicatorMissing))
	require.Equal(t, 1, rec.Len())
}
