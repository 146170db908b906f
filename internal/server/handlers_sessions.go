package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/storage"
)

const maxSessionTitleLen = 500

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type updateSessionRequest struct {
	Title string `json:"title"`
}

// HandleCreateSession creates an empty chat session for the caller.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Title) > maxSessionTitleLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "title too long")
		return
	}

	sess, err := h.store.CreateSession(r.Context(), model.Session{
		UserID: claims.UserID(),
		Title:  req.Title,
	})
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create session")
		return
	}

	writeJSON(w, r, http.StatusCreated, sess)
}

// HandleListSessions lists the caller's sessions, most recent first.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.store.ListSessions(r.Context(), claims.UserID(), limit)
	if err != nil {
		h.logger.Error("list sessions", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleGetSession returns one session's metadata.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, sess)
}

// HandleUpdateSession renames a session.
func (h *Handlers) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Title == "" || len(req.Title) > maxSessionTitleLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "title must be between 1 and 500 characters")
		return
	}

	claims := ClaimsFromContext(r.Context())
	if err := h.store.UpdateSessionTitle(r.Context(), sess.ID, claims.UserID(), req.Title); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeSessionMissing, "session not found")
			return
		}
		h.logger.Error("update session title", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update session")
		return
	}

	sess.Title = req.Title
	writeJSON(w, r, http.StatusOK, sess)
}
