package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "patientOnboarding_u-1", Key("patientOnboarding", "u-1"))
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateKey("form_user"))
	require.ErrorIs(t, ValidateKey("  "), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey("a\nb"), ErrInvalidKey)
}

func TestNoOpStore(t *testing.T) {
	t.Parallel()

	var s Store = NoOpStore{}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	_, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotFound)
}
