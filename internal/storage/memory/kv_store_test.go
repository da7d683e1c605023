package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/onboard-forms/internal/storage"
)

func TestKVStoreCopiesData(t *testing.T) {
	t.Parallel()

	s := NewKVStore()
	payload := []byte(`{"name":"Ada"}`)
	require.NoError(t, s.Set(context.Background(), "patient_u1", payload))
	payload[2] = 'X'

	got, err := s.Get(context.Background(), "patient_u1")
	require.NoError(t, err)
	require.Equal(t, `{"name":"Ada"}`, string(got))

	got[0] = '['
	again, err := s.Get(context.Background(), "patient_u1")
	require.NoError(t, err)
	require.Equal(t, byte('{'), again[0])
	require.Equal(t, []string{"patient_u1"}, s.Keys())
}

func TestKVStoreMissingAndInvalid(t *testing.T) {
	t.Parallel()

	s := NewKVStore()
	_, err := s.Get(context.Background(), "absent")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.Set(context.Background(), "", nil), storage.ErrInvalidKey)
}
