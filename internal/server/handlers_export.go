package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/reconcile"
)

// exportMaxPages bounds the backward page walk so a runaway session
// cannot pin a request forever.
const exportMaxPages = 200

// HandleExportTranscript returns the full reconciled transcript for a
// session, as JSON by default or Markdown with ?format=markdown.
func (h *Handlers) HandleExportTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	claims := ClaimsFromContext(r.Context())

	messages, err := h.fullTranscript(r, sess, claims.UserID())
	if err != nil {
		h.logger.Error("export transcript", "session_id", sess.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to export transcript")
		return
	}

	export := model.ExportedTranscript{
		SessionID:  sess.ID.String(),
		Title:      sess.Title,
		ExportedAt: time.Now().UTC(),
		Messages:   messages,
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "transcript-"+sess.ID.String()+".md"))
		_, _ = w.Write([]byte(renderMarkdown(export)))
		return
	}

	writeJSON(w, r, http.StatusOK, export)
}

// fullTranscript walks the reconciler's pages from newest to oldest and
// stitches them back into one chronological slice.
func (h *Handlers) fullTranscript(r *http.Request, sess model.Session, userID uuid.UUID) ([]model.CanonicalMessage, error) {
	var pages [][]model.CanonicalMessage
	before := ""
	for page := 0; page < exportMaxPages; page++ {
		transcript, err := h.reconciler.Reconcile(r.Context(), reconcile.Request{
			SessionID:       sess.ID,
			RunLogSessionID: sess.PublicID.String(),
			UserID:          userID,
			Limit:           model.MaxTranscriptLimit,
			BeforeMessageID: before,
		})
		if err != nil {
			return nil, err
		}
		if len(transcript.Messages) > 0 {
			pages = append(pages, transcript.Messages)
			before = transcript.Messages[0].MessageID
		}
		if !transcript.HasMore || len(transcript.Messages) == 0 {
			break
		}
	}

	var out []model.CanonicalMessage
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	if out == nil {
		out = []model.CanonicalMessage{}
	}
	return out, nil
}

func renderMarkdown(export model.ExportedTranscript) string {
	var sb strings.Builder
	title := export.Title
	if title == "" {
		title = "Transcript"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "Exported %s\n\n", export.ExportedAt.Format(time.RFC3339))

	for _, msg := range export.Messages {
		author := string(msg.Role)
		if msg.AgentName != "" {
			author = msg.AgentName
		}
		sb.WriteString("**" + author + "**")
		if msg.Timestamp != nil {
			sb.WriteString(" · " + msg.Timestamp.Format(time.RFC3339))
		}
		sb.WriteString("\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}
