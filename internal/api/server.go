package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/guard"
	"github.com/JakeFAU/onboard-forms/internal/identity"
	"github.com/JakeFAU/onboard-forms/internal/metrics"
	"github.com/JakeFAU/onboard-forms/internal/middleware"
	"github.com/JakeFAU/onboard-forms/internal/policy/ratelimit"
	"github.com/JakeFAU/onboard-forms/internal/session"
	"github.com/JakeFAU/onboard-forms/internal/store"
)

// UserIDHeader names the caller when bearer auth is disabled.
const UserIDHeader = "X-User-ID"

const (
	defaultRequestTimeout = 30 * time.Second
	defaultStreamBuffer   = 16
	maxBodyBytes          = 1 << 20
)

// Config wires a Server. Sessions and Guard are required.
//   - Verifier: when set, callers authenticate with a bearer token and
//     X-User-ID is ignored.
//   - Limiter: caps interaction requests per caller; nil disables it.
//   - Reports: backs /v1/reports; nil answers 503.
//   - Ready: readiness probe; nil is always ready.
type Config struct {
	Sessions       *session.Registry
	Guard          *guard.Guard
	Verifier       *identity.TokenVerifier
	Limiter        *ratelimit.Limiter
	Reports        store.ProgressRepository
	Ready          func(context.Context) error
	RequestTimeout time.Duration
	StreamBuffer   int
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the session registry and guard.
type Server struct {
	router   chi.Router
	sessions *session.Registry
	guard    *guard.Guard
	verifier *identity.TokenVerifier
	limiter  *ratelimit.Limiter
	ready    func(context.Context) error
	buffer   int
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("api: session registry is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("api: guard is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	metrics.Init()

	s := &Server{
		sessions: cfg.Sessions,
		guard:    cfg.Guard,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		ready:    cfg.Ready,
		buffer:   buffer,
		logger:   logger,
	}
	reports := NewProgressHandler(cfg.Reports, logger.Named("reports"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger.Named("http")))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.identify)
		withTimeout := timeoutMiddleware(timeout)

		r.With(withTimeout).Get("/guard", s.checkGuard)
		r.Route("/sessions", func(r chi.Router) {
			r.With(withTimeout).Post("/", s.openSession)
			r.Route("/{session_id}", func(r chi.Router) {
				// The stream hijacks the connection, which http.TimeoutHandler
				// does not support.
				r.Get("/stream", s.streamSession)
				r.Group(func(r chi.Router) {
					r.Use(withTimeout)
					r.With(s.rateLimit).Post("/events", s.applyEvent)
					r.Get("/progress", s.getProgress)
					r.Post("/restore", s.restoreSession)
					r.Post("/flush", s.flushSession)
					r.Delete("/", s.closeSession)
				})
			})
		})
		r.Route("/reports/sessions", func(r chi.Router) {
			r.Use(withTimeout)
			r.Get("/", reports.ListSessions)
			r.Get("/{session_id}", reports.GetSession)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(s.logger, w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type userIDKey struct{}

// identify resolves the caller. Requests without credentials proceed
// anonymously; invalid credentials are rejected.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if s.verifier != nil {
			raw, present, err := bearerFrom(r)
			if err != nil {
				writeError(s.logger, w, http.StatusUnauthorized, err.Error())
				return
			}
			if present {
				userID, err = s.verifier.Verify(raw)
				if err != nil {
					s.logger.Debug("bearer token rejected", zap.Error(err))
					writeError(s.logger, w, http.StatusUnauthorized, "invalid bearer token")
					return
				}
			}
		} else {
			userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerFrom reads the Authorization header, falling back to the
// access_token query parameter browsers use for websocket upgrades.
func bearerFrom(r *http.Request) (string, bool, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		raw, err := identity.BearerToken(header)
		if err != nil {
			return "", true, fmt.Errorf("malformed authorization header: %w", err)
		}
		return raw, true, nil
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("access_token")); raw != "" {
		return raw, true, nil
	}
	return "", false, nil
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// rateLimit throttles per caller, keyed by user id or remote address.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := userFrom(r.Context())
		if key == "" {
			key = "addr:" + r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			metrics.ObserveRateLimited(middleware.RoutePattern(r))
			w.Header().Set("Retry-After", "1")
			writeError(s.logger, w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
