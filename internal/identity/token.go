package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// TokenVerifier validates HS256 bearer tokens and extracts the subject as the
// user id.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// TokenOption customises a TokenVerifier.
type TokenOption func(*TokenVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) TokenOption {
	return func(v *TokenVerifier) { v.issuer = iss }
}

// WithAudience requires aud to contain aud.
func WithAudience(aud string) TokenOption {
	return func(v *TokenVerifier) { v.audience = aud }
}

// WithLeeway tolerates clock skew on exp/nbf.
func WithLeeway(d time.Duration) TokenOption {
	return func(v *TokenVerifier) { v.leeway = d }
}

// WithTimeFunc overrides the verification clock.
func WithTimeFunc(fn func() time.Time) TokenOption {
	return func(v *TokenVerifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewTokenVerifier builds a verifier for secret.
func NewTokenVerifier(secret []byte, opts ...TokenOption) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	v := &TokenVerifier{secret: append([]byte(nil), secret...), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses raw and returns its subject.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrMissingToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Sign issues a token for subject valid for ttl. It backs local tooling and
// tests.
func (v *TokenVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
