package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsumugi/internal/auth"
	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/storage"
)

type createShareResponse struct {
	ShareID   string    `json:"share_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleCreateShare mints an expiring share link for a session. Only
// the argon2id hash of the token is stored; the token itself is shown
// once.
func (h *Handlers) HandleCreateShare(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())

	token, err := auth.NewShareToken()
	if err != nil {
		h.logger.Error("generate share token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create share link")
		return
	}
	hash, err := auth.HashShareToken(token)
	if err != nil {
		h.logger.Error("hash share token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create share link")
		return
	}

	rec, err := h.store.CreateShare(r.Context(), storage.ShareRecord{
		SessionID: sess.ID,
		UserID:    claims.UserID(),
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(h.shareTTL),
	})
	if err != nil {
		h.logger.Error("create share", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create share link")
		return
	}

	writeJSON(w, r, http.StatusCreated, createShareResponse{
		ShareID:   rec.ID.String(),
		Token:     token,
		ExpiresAt: rec.ExpiresAt,
	})
}

// HandleDeleteShare revokes a share link the caller created.
func (h *Handlers) HandleDeleteShare(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	shareID, err := uuid.Parse(r.PathValue("share_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "share_id must be a UUID")
		return
	}

	if err := h.store.DeleteShare(r.Context(), shareID, claims.UserID()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share not found")
			return
		}
		h.logger.Error("delete share", "share_id", shareID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete share")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleResolveShare serves a shared transcript to an unauthenticated
// caller holding a valid share token. A bad id, an expired link, and a
// wrong token all produce the same 404.
func (h *Handlers) HandleResolveShare(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share link not found")
		return
	}

	shareID, err := uuid.Parse(r.PathValue("share_id"))
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share link not found")
		return
	}

	rec, err := h.store.GetShare(r.Context(), shareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			auth.DummyVerify()
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share link not found")
			return
		}
		h.logger.Error("load share", "share_id", shareID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to resolve share")
		return
	}

	valid, err := auth.VerifyShareToken(token, rec.TokenHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share link not found")
		return
	}

	sess, err := h.store.GetSession(r.Context(), rec.SessionID, rec.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "share link not found")
			return
		}
		h.logger.Error("load shared session", "session_id", rec.SessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to resolve share")
		return
	}

	messages, err := h.fullTranscript(r, sess, rec.UserID)
	if err != nil {
		h.logger.Error("reconcile shared transcript", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to resolve share")
		return
	}

	writeJSON(w, r, http.StatusOK, model.ExportedTranscript{
		SessionID:  sess.ID.String(),
		Title:      sess.Title,
		ExportedAt: time.Now().UTC(),
		Messages:   messages,
	})
}
