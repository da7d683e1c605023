package autosave

import (
	"context"
	"errors"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/onboard-forms/internal/codec"
	"github.com/JakeFAU/onboard-forms/internal/form"
	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/storage"
	"github.com/JakeFAU/onboard-forms/internal/storage/memory"
)

func volunteerForm() *form.Form {
	f := form.New("volunteer",
		&form.Control{Name: "fullName", Type: form.TypeText, Value: "Ada"},
		&form.Control{Name: "skills", Type: form.TypeCheckbox, Value: "first-aid", Checked: true},
		&form.Control{Name: "skills", Type: form.TypeCheckbox, Value: "driving"},
		&form.Control{Name: "cv", Type: form.TypeFile},
	)
	return f
}

type errStore struct{ storage.NoOpStore }

func (errStore) Set(context.Context, string, []byte) error { return errors.New("quota exceeded") }

func newTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	rec := tracetest.NewSpanRecorder()
	return rec, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
}

func TestSaveWritesCollectedState(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore()
	rec, tp := newTracer()
	var events []progress.Event
	saver, err := New(Config{
		Form:   volunteerForm(),
		Store:  kv,
		UserID: func() string { return "u7" },
		Events: progress.EmitterFunc(func(e progress.Event) { events = append(events, e) }),
		Source: progress.Source{SessionID: [16]byte{9}, FormID: "volunteer"},
		Clock:  clock.NewMock(),
		Tracer: tp.Tracer("test"),
	})
	require.NoError(t, err)

	require.NoError(t, saver.Save(context.Background()))

	data, err := kv.Get(context.Background(), "volunteer_u7")
	require.NoError(t, err)
	state, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, form.State{"fullName": form.String("Ada"), "skills": form.List("first-aid")}, state)

	require.Len(t, events, 1)
	require.Equal(t, progress.StageSaveCommitted, events[0].Stage)
	require.Equal(t, "u7", events[0].UserID)
	require.Equal(t, int64(len(data)), events[0].Bytes)
	require.NoError(t, events[0].Validate())

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "autosave.commit", spans[0].Name())
}

func TestSaveWithoutUserIsNoop(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore()
	saver, err := New(Config{Form: volunteerForm(), Store: kv})
	require.NoError(t, err)
	require.NoError(t, saver.Save(context.Background()))
	require.Empty(t, kv.Keys())
}

func TestSaveFailureEmitsEventAndMarksSpan(t *testing.T) {
	t.Parallel()

	rec, tp := newTracer()
	var events []progress.Event
	saver, err := New(Config{
		Form:   volunteerForm(),
		Store:  errStore{},
		UserID: func() string { return "u7" },
		Events: progress.EmitterFunc(func(e progress.Event) { events = append(events, e) }),
		Source: progress.Source{SessionID: [16]byte{9}, FormID: "volunteer"},
		Tracer: tp.Tracer("test"),
	})
	require.NoError(t, err)

	err = saver.Save(context.Background())
	require.ErrorContains(t, err, "save form progress: quota exceeded")

	require.Len(t, events, 1)
	require.Equal(t, progress.StageSaveFailed, events[0].Stage)
	require.Equal(t, "quota exceeded", events[0].Note)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Form: volunteerForm()})
	require.Error(t, err)
}

func TestPrepareSnapshotsBeforeWrite(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore()
	f := volunteerForm()
	saver, err := New(Config{Form: f, Store: kv, UserID: func() string { return "u7" }})
	require.NoError(t, err)

	write, err := saver.Prepare()
	require.NoError(t, err)
	require.NotNil(t, write)
	require.Empty(t, kv.Keys(), "prepare does not touch the store")

	f.Controls()[0].Value = "Grace"
	require.NoError(t, write(context.Background()))

	data, err := kv.Get(context.Background(), "volunteer_u7")
	require.NoError(t, err)
	state, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, form.String("Ada"), state["fullName"], "the write carries the prepared snapshot")
}

func TestPrepareWithoutUserReturnsNoWrite(t *testing.T) {
	t.Parallel()

	saver, err := New(Config{Form: volunteerForm(), Store: memory.NewKVStore()})
	require.NoError(t, err)
	write, err := saver.Prepare()
	require.NoError(t, err)
	require.Nil(t, write)
}
