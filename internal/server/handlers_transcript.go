package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/reconcile"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

// HandleGetTranscript is the main read path: it reconciles the remote
// run log with the local ledger and returns one page of the merged
// transcript.
func (h *Handlers) HandleGetTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())

	q := r.URL.Query()
	limit := model.DefaultTranscriptLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > model.MaxTranscriptLimit {
		limit = model.MaxTranscriptLimit
	}

	transcript, err := h.reconciler.Reconcile(r.Context(), reconcile.Request{
		SessionID:       sess.ID,
		RunLogSessionID: sess.PublicID.String(),
		UserID:          claims.UserID(),
		Limit:           limit,
		BeforeMessageID: q.Get("before_message_id"),
		IncludeSystem:   q.Get("include_system") == "true",
	})
	if err != nil {
		h.logger.Error("reconcile transcript", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to build transcript")
		return
	}

	writeJSON(w, r, http.StatusOK, transcriptResponse(sess, transcript))
}

func transcriptResponse(sess model.Session, t *reconcile.Transcript) model.TranscriptResponse {
	resp := model.TranscriptResponse{
		SessionID:    sess.ID.String(),
		Messages:     t.Messages,
		HasMore:      t.HasMore,
		RunSummaries: t.RunSummaries,
		TotalRuns:    len(t.RunSummaries),
		Degraded:     t.Degraded,
	}
	if resp.Messages == nil {
		resp.Messages = []model.CanonicalMessage{}
	}
	if resp.RunSummaries == nil {
		resp.RunSummaries = []model.RunSummary{}
	}
	if len(resp.Messages) > 0 {
		resp.OldestMessageID = resp.Messages[0].MessageID
		resp.NewestMessageID = resp.Messages[len(resp.Messages)-1].MessageID
	}
	return resp
}

// HandleSendMessage writes the user's message to the ledger, then
// forwards it to the orchestrator. The ledger write is the committed
// state: submission failure degrades the turn, it does not undo it.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), model.LocalMessage{
		SessionID: sess.ID,
		UserID:    claims.UserID(),
		Role:      model.RoleUser,
		Content:   req.Content,
		AgentID:   req.AgentID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.logger.Error("create message", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to record message")
		return
	}

	streamID := h.forwardToOrchestrator(r, sess, msg, req)

	if err := h.store.TouchSession(r.Context(), sess.ID); err != nil {
		h.logger.Warn("touch session", "session_id", sess.ID, "error", err)
	}

	writeJSON(w, r, http.StatusCreated, model.SendMessageResponse{
		MessageID: msg.ID.String(),
		StreamID:  streamID,
		SessionID: sess.ID.String(),
	})
}

// forwardToOrchestrator submits the turn upstream and, on success,
// attaches the acknowledged stream id to the ledger row, records the
// stream marker, and drops the session's run-log cache entry. Returns
// the stream id, or empty when the orchestrator could not be reached.
func (h *Handlers) forwardToOrchestrator(r *http.Request, sess model.Session, msg model.LocalMessage, req model.SendMessageRequest) string {
	if h.submitter == nil {
		return ""
	}

	runLogSessionID := sess.PublicID.String()
	result, err := h.submitter.SubmitRun(r.Context(), runLogSessionID, req.Content, req.AgentID)
	if err != nil {
		// The ledger row stands on its own: the transcript shows the
		// message as fresh local state until a later run picks it up.
		h.logger.Warn("run submission failed",
			"session_id", sess.ID, "message_id", msg.ID, "error", err)
		return ""
	}

	if result.StreamID != "" {
		if err := h.store.AttachStreamID(r.Context(), msg.ID, result.StreamID); err != nil {
			h.logger.Warn("attach stream id",
				"message_id", msg.ID, "stream_id", result.StreamID, "error", err)
		}
		if h.markers != nil {
			h.markers.Put(stream.Marker{
				StreamID:  result.StreamID,
				SessionID: runLogSessionID,
				RunID:     result.RunID,
				Status:    model.StreamStatusStreaming,
				User:      msg.UserID.String(),
			})
		}
	}
	if h.cache != nil {
		h.cache.Invalidate(runLogSessionID)
	}
	return result.StreamID
}
