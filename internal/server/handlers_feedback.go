package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/storage"
)

type feedbackRequest struct {
	Reaction string `json:"reaction"`
	Comment  string `json:"comment,omitempty"`
}

const maxFeedbackCommentLen = 2000

// HandlePutFeedback records the caller's reaction to a transcript
// message. The message id is the canonical transcript id, which for
// run-log-derived messages never hits the ledger's own key space.
func (h *Handlers) HandlePutFeedback(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	messageID := r.PathValue("message_id")
	if messageID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "message_id is required")
		return
	}

	var req feedbackRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	switch req.Reaction {
	case "", "like", "dislike":
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, `reaction must be "like", "dislike", or empty`)
		return
	}
	if len(req.Comment) > maxFeedbackCommentLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "comment too long")
		return
	}

	fb, err := h.store.UpsertFeedback(r.Context(), messageID, claims.UserID(), req.Reaction, req.Comment)
	if err != nil {
		h.logger.Error("upsert feedback", "message_id", messageID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to record feedback")
		return
	}

	writeJSON(w, r, http.StatusOK, fb)
}

// HandleDeleteFeedback removes the caller's feedback on a message.
func (h *Handlers) HandleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return
	}

	messageID := r.PathValue("message_id")
	if messageID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "message_id is required")
		return
	}

	if err := h.store.DeleteFeedback(r.Context(), messageID, claims.UserID()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "feedback not found")
			return
		}
		h.logger.Error("delete feedback", "message_id", messageID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete feedback")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}
