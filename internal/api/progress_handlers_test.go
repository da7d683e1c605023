package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/store"
)

func TestProgressHandlerListSessions(t *testing.T) {
	t.Parallel()

	repo := &mockProgressRepo{
		sessions: []store.SessionRecord{
			{
				ID:         uuid.New(),
				FormID:     "volunteer",
				UserID:     "ada",
				Status:     store.SessionOpen,
				Percentage: 67,
				OpenedAt:   time.Now().Add(-time.Hour),
			},
		},
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/sessions?form_id=volunteer&limit=10&offset=2", nil)
	rec := httptest.NewRecorder()

	handler.ListSessions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "volunteer", repo.gotForm)
	require.Equal(t, 10, repo.gotLimit)
	require.Equal(t, 2, repo.gotOffset)

	var body struct {
		Sessions []sessionDTO `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	require.Equal(t, 67, body.Sessions[0].Percentage)
	require.Equal(t, "open", body.Sessions[0].Status)
}

func TestProgressHandlerListSessionsClampsLimit(t *testing.T) {
	t.Parallel()

	repo := &mockProgressRepo{}
	handler := NewProgressHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.ListSessions(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/sessions?limit=10000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxSessionLimit, repo.gotLimit)
	require.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestProgressHandlerListSessionsBadPaging(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())
	for _, query := range []string{"limit=-1", "limit=abc", "offset=-3"} {
		rec := httptest.NewRecorder()
		handler.ListSessions(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/sessions?"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestProgressHandlerListSessionsRepoError(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{err: errors.New("db down")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/sessions", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerGetSessionNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockProgressRepo{err: store.ErrNotFound}
	handler := NewProgressHandler(repo, zap.NewNop())

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/sessions/"+id.String(), nil)
	req = withSessionIDParam(req, id.String())
	rec := httptest.NewRecorder()

	handler.GetSession(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetSessionInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/sessions/nope", nil)
	req = withSessionIDParam(req, "nope")
	rec := httptest.NewRecorder()

	handler.GetSession(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerNilRepo(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/sessions", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetSession(rec, withSessionIDParam(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockProgressRepo struct {
	sessions []store.SessionRecord
	err      error

	gotForm   string
	gotLimit  int
	gotOffset int
}

func (m *mockProgressRepo) OpenSession(context.Context, uuid.UUID, string, string, time.Time) error {
	return m.err
}

func (m *mockProgressRepo) CloseSession(context.Context, uuid.UUID, time.Time) error {
	return m.err
}

func (m *mockProgressRepo) ApplyActivity(context.Context, uuid.UUID, store.ActivityDelta) error {
	return m.err
}

func (m *mockProgressRepo) GetSession(_ context.Context, id uuid.UUID) (store.SessionRecord, error) {
	if m.err != nil {
		return store.SessionRecord{}, m.err
	}
	for _, rec := range m.sessions {
		if rec.ID == id {
			return rec, nil
		}
	}
	return store.SessionRecord{}, store.ErrNotFound
}

func (m *mockProgressRepo) ListSessions(_ context.Context, formID string, limit, offset int) ([]store.SessionRecord, error) {
	m.gotForm, m.gotLimit, m.gotOffset = formID, limit, offset
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions, nil
}

func withSessionIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("session_id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
