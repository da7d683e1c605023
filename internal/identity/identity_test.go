package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestDirectory(t *testing.T) {
	t.Parallel()

	d := NewDirectory(Profile{UserID: "u1", Status: StatusApproved, Role: RolePatient})
	p, err := d.Profile(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, RolePatient, p.Role)

	_, err = d.Profile(context.Background(), "u2")
	require.ErrorIs(t, err, ErrProfileNotFound)

	d.Put(Profile{UserID: "u2", Status: StatusPendingApproval, Role: RoleLab})
	p, err = d.Profile(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, p.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Profile(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	r, ok := ParseRole(" Doctor ")
	require.True(t, ok)
	require.Equal(t, RoleDoctor, r)
	_, ok = ParseRole("admin")
	require.False(t, ok)
}

func TestTokenVerifierRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	v, err := NewTokenVerifier([]byte("s3cret"),
		WithIssuer("onboard"), WithAudience("forms"), WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)

	token, err := v.Sign("u1", time.Hour)
	require.NoError(t, err)
	sub, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", sub)
}

func TestTokenVerifierRejects(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	v, err := NewTokenVerifier([]byte("s3cret"), WithTimeFunc(clock))
	require.NoError(t, err)
	other, err := NewTokenVerifier([]byte("other"), WithTimeFunc(clock))
	require.NoError(t, err)

	expired, err := v.Sign("u1", -time.Minute)
	require.NoError(t, err)
	forged, err := other.Sign("u1", time.Hour)
	require.NoError(t, err)
	noSubject, err := v.Sign("", time.Hour)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "expired", token: expired},
		{name: "wrong key", token: forged},
		{name: "no subject", token: noSubject},
		{name: "no expiry", token: noExp},
		{name: "wrong algorithm", token: hs512},
		{name: "garbage", token: "a.b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify("")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	require.Equal(t, "abc.def", tok)
	tok, err = BearerToken("bearer   xyz ")
	require.NoError(t, err)
	require.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Basic abc", "Bearer", "Bearer  "} {
		_, err := BearerToken(h)
		require.ErrorIs(t, err, ErrMissingToken, h)
	}
	_, err = NewTokenVerifier(nil)
	require.Error(t, err)
}
