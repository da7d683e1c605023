package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/metrics"
	"github.com/JakeFAU/onboard-forms/internal/restore"
	"github.com/JakeFAU/onboard-forms/internal/schedule"
	"github.com/JakeFAU/onboard-forms/internal/session"
)

type openSessionResponse struct {
	SessionID string       `json:"session_id"`
	Progress  session.View `json:"progress"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req session.OpenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.UserID = userFrom(r.Context())
	sess, err := s.sessions.Open(r.Context(), req)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	metrics.SetLiveSessions(s.sessions.Len())
	view, err := sess.View(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, openSessionResponse{SessionID: sess.ID().String(), Progress: view})
}

func (s *Server) applyEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var in session.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := sess.Apply(r.Context(), in); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view, err := sess.View(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, view)
}

func (s *Server) restoreSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := sess.Restore(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, res)
}

func (s *Server) flushSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Flush(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	view, err := sess.View(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, view)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Close(r.Context(), sess.ID()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	metrics.SetLiveSessions(s.sessions.Len())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkGuard(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(s.logger, w, http.StatusBadRequest, "path is required")
		return
	}
	decision := s.guard.Check(r.Context(), userFrom(r.Context()), path)
	metrics.ObserveGuardDecision(string(decision.Reason))
	writeJSON(s.logger, w, http.StatusOK, decision)
}

// lookup resolves the {session_id} parameter to a session the caller owns.
// Sessions opened anonymously are reachable by anyone holding the id.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := parseSessionID(r)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.writeSessionError(w, err)
		return nil, false
	}
	if owner := sess.UserID(); owner != "" && owner != userFrom(r.Context()) {
		writeError(s.logger, w, http.StatusForbidden, "session belongs to another user")
		return nil, false
	}
	return sess, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, session.ErrUnknownField):
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrReadOnly):
		writeError(s.logger, w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrClosed):
		writeError(s.logger, w, http.StatusGone, "session closed")
	case errors.Is(err, restore.ErrNotSignedIn):
		writeError(s.logger, w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, restore.ErrNoSavedProgress):
		writeError(s.logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrLoopClosed):
		writeError(s.logger, w, http.StatusServiceUnavailable, "service shutting down")
	default:
		s.logger.Error("session request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal error")
	}
}
