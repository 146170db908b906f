package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/reconcile"
	"github.com/ashita-ai/tsumugi/internal/runlog"
	"github.com/ashita-ai/tsumugi/internal/storage"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

// Store is the subset of the ledger database the HTTP layer uses.
type Store interface {
	CreateSession(ctx context.Context, session model.Session) (model.Session, error)
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (model.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]model.Session, error)
	TouchSession(ctx context.Context, sessionID uuid.UUID) error
	UpdateSessionTitle(ctx context.Context, sessionID, userID uuid.UUID, title string) error

	CreateMessage(ctx context.Context, msg model.LocalMessage) (model.LocalMessage, error)
	AttachStreamID(ctx context.Context, messageID uuid.UUID, streamID string) error

	UpsertFeedback(ctx context.Context, messageID string, userID uuid.UUID, reaction, comment string) (model.Feedback, error)
	DeleteFeedback(ctx context.Context, messageID string, userID uuid.UUID) error

	CreateShare(ctx context.Context, rec storage.ShareRecord) (storage.ShareRecord, error)
	GetShare(ctx context.Context, shareID uuid.UUID) (storage.ShareRecord, error)
	DeleteShare(ctx context.Context, shareID, userID uuid.UUID) error

	Ping(ctx context.Context) error
}

// Reconciler produces merged transcripts.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Transcript, error)
}

// Submitter forwards a user turn to the orchestrator.
type Submitter interface {
	SubmitRun(ctx context.Context, sessionID, content, agentID string) (*runlog.SubmitResult, error)
}

// Invalidator drops a session's cached run-log entry after a write.
type Invalidator interface {
	Invalidate(sessionID string)
}

// MarkerWriter records an in-flight stream so transcript reads can
// overlay a streaming placeholder before the run log catches up.
type MarkerWriter interface {
	Put(marker stream.Marker)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store      Store
	reconciler Reconciler
	submitter  Submitter
	cache      Invalidator
	markers    MarkerWriter
	logger     *slog.Logger
	version    string
	startedAt  time.Time

	maxRequestBodyBytes int64
	shareTTL            time.Duration
}

// HandlersDeps holds dependencies for NewHandlers. Submitter, Cache,
// and Markers are optional: without them sends still hit the ledger but
// never reach the orchestrator.
type HandlersDeps struct {
	Store      Store
	Reconciler Reconciler
	Submitter  Submitter
	Cache      Invalidator
	Markers    MarkerWriter
	Logger     *slog.Logger
	Version    string

	MaxRequestBodyBytes int64
	ShareTTL            time.Duration
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBody := deps.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	shareTTL := deps.ShareTTL
	if shareTTL <= 0 {
		shareTTL = 7 * 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:               deps.Store,
		reconciler:          deps.Reconciler,
		submitter:           deps.Submitter,
		cache:               deps.Cache,
		markers:             deps.Markers,
		logger:              logger,
		version:             deps.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: maxBody,
		shareTTL:            shareTTL,
	}
}

// HandleHealth reports liveness and database reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health: database ping failed", "error", err)
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// sessionFromPath resolves the {session_id} path value against the
// authenticated user's sessions. A session owned by someone else is
// indistinguishable from a missing one.
func (h *Handlers) sessionFromPath(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return model.Session{}, false
	}

	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "session_id must be a UUID")
		return model.Session{}, false
	}

	sess, err := h.store.GetSession(r.Context(), sessionID, claims.UserID())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeSessionMissing, "session not found")
		} else {
			h.logger.Error("load session", "session_id", sessionID, "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load session")
		}
		return model.Session{}, false
	}
	return sess, true
}
