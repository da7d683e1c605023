package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/onboard-forms/internal/id/uuid"
	"github.com/JakeFAU/onboard-forms/internal/store"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
	progressTimeout     = 3 * time.Second
)

// ProgressHandler exposes read-only session activity recorded by the
// progress hub.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListSessions handles GET /v1/reports/sessions?form_id=&limit=&offset=. It
// returns {"sessions": [...]} newest first, 400 for invalid paging, 503 when
// the repo is unavailable, or 500 if the repository call fails.
func (h *ProgressHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	formID := strings.TrimSpace(r.URL.Query().Get("form_id"))
	sessions, err := h.repo.ListSessions(ctx, formID, limit, offset)
	if err != nil {
		h.logger.Error("list sessions failed", zap.String("form_id", formID), zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"sessions": toSessionDTOs(sessions),
	})
}

// GetSession handles GET /v1/reports/sessions/{session_id}. It returns
// {"session": {...}}, 400 for malformed ids, 404 when the repository reports
// store.ErrNotFound, 503 if the repo is not initialized, or 500 otherwise.
func (h *ProgressHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(h.logger, w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.String("session_id", id.String()), zap.Error(err))
		writeError(h.logger, w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"session": toSessionDTO(rec)})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return uuid.Nil, errors.New("session_id is required")
	}
	id, err := idgen.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid session_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toSessionDTOs(in []store.SessionRecord) []sessionDTO {
	out := make([]sessionDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, toSessionDTO(rec))
	}
	return out
}

func toSessionDTO(rec store.SessionRecord) sessionDTO {
	return sessionDTO{
		ID:             rec.ID.String(),
		FormID:         rec.FormID,
		UserID:         rec.UserID,
		OpenedAt:       rec.OpenedAt,
		ClosedAt:       rec.ClosedAt,
		Status:         string(rec.Status),
		Percentage:     rec.Percentage,
		Renders:        rec.Renders,
		Saves:          rec.Saves,
		SaveFailures:   rec.SaveFailures,
		BytesSaved:     rec.BytesSaved,
		FieldsRestored: rec.FieldsRestored,
		LastUpdate:     rec.LastUpdate,
	}
}

type sessionDTO struct {
	ID             string     `json:"id"`
	FormID         string     `json:"form_id"`
	UserID         string     `json:"user_id,omitempty"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Status         string     `json:"status"`
	Percentage     int        `json:"percentage"`
	Renders        int64      `json:"renders"`
	Saves          int64      `json:"saves"`
	SaveFailures   int64      `json:"save_failures"`
	BytesSaved     int64      `json:"bytes_saved"`
	FieldsRestored int        `json:"fields_restored"`
	LastUpdate     time.Time  `json:"last_update"`
}
