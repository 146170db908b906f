package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

// RunLogProvider fetches the remote run log for a session. Implemented
// by the runlog client; may fail with network or timeout errors, which
// the engine degrades on rather than surfacing.
type RunLogProvider interface {
	FetchRuns(ctx context.Context, sessionID string) ([]model.RunRecord, error)
}

// Ledger reads the local message table, the system of record for what
// the user actually sent.
type Ledger interface {
	ListMessages(ctx context.Context, sessionID, userID uuid.UUID) ([]model.LocalMessage, error)
}

// AgentDirectory resolves current agent display names.
type AgentDirectory interface {
	// ResolveAgentNames returns the current display name for each known
	// id in the set; unknown ids are simply absent from the result.
	ResolveAgentNames(ctx context.Context, agentIDs []string) (map[string]string, error)

	// FindAgentIDByName resolves a display name to its canonical agent
	// id, for legacy run-log entries that recorded names as ids.
	FindAgentIDByName(ctx context.Context, name string) (string, error)
}

// AttachmentIndex looks up attachments by message id, with a
// content-signature fallback for pre-migration records.
type AttachmentIndex interface {
	ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error)
	FindByContentSignature(ctx context.Context, role model.Role, contentPrefix string) ([]model.Attachment, error)
}

// FeedbackStore retrieves one user's feedback on a message.
type FeedbackStore interface {
	GetFeedback(ctx context.Context, messageID string, userID uuid.UUID) (*model.Feedback, error)
}

// Request identifies one transcript read.
type Request struct {
	// SessionID keys the local ledger.
	SessionID uuid.UUID
	// RunLogSessionID keys the remote run log. Empty means the ledger
	// session id is shared with the orchestrator.
	RunLogSessionID string
	UserID          uuid.UUID
	Limit           int
	BeforeMessageID string
	IncludeSystem   bool
}

// Transcript is the reconciled result of one read.
type Transcript struct {
	Messages     []model.CanonicalMessage
	HasMore      bool
	RunSummaries []model.RunSummary
	// Degraded is true when the run log was unreachable and the
	// transcript was built from the ledger alone.
	Degraded bool
}

// Service is the transcript reconciliation engine. It holds no state
// between invocations; every read re-derives the transcript from the
// collaborators' current snapshots.
type Service struct {
	runlog      RunLogProvider
	ledger      Ledger
	agents      AgentDirectory
	attachments AttachmentIndex
	feedback    FeedbackStore
	markers     stream.MarkerStore
	logger      *slog.Logger
	now         func() time.Time

	reads         metric.Int64Counter
	localFallback metric.Int64Counter
	dedupDropped  metric.Int64Counter
}

// Deps holds the collaborators for constructing a Service.
// Optional (nil-safe): Markers, Now.
type Deps struct {
	RunLog      RunLogProvider
	Ledger      Ledger
	Agents      AgentDirectory
	Attachments AttachmentIndex
	Feedback    FeedbackStore
	Markers     stream.MarkerStore
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewService creates the reconciliation engine.
func NewService(d Deps) *Service {
	s := &Service{
		runlog:      d.RunLog,
		ledger:      d.Ledger,
		agents:      d.Agents,
		attachments: d.Attachments,
		feedback:    d.Feedback,
		markers:     d.Markers,
		logger:      d.Logger,
		now:         d.Now,
	}
	if s.markers == nil {
		s.markers = stream.NoopStore{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	meter := otel.Meter("tsumugi/reconcile")
	s.reads, _ = meter.Int64Counter("reconcile.reads",
		metric.WithDescription("Transcript reconciliations performed"))
	s.localFallback, _ = meter.Int64Counter("reconcile.local_only_fallbacks",
		metric.WithDescription("Reads served from the ledger alone because the run log was unreachable"))
	s.dedupDropped, _ = meter.Int64Counter("reconcile.dedup_dropped",
		metric.WithDescription("Messages removed by deduplication"))
	return s
}

// Reconcile merges the remote run log and the local ledger into one
// deduplicated, enriched, chronologically ordered, paginated transcript.
// A session absent from both sources yields an empty transcript, not an
// error; a run-log failure degrades to a local-only transcript.
func (s *Service) Reconcile(ctx context.Context, req Request) (*Transcript, error) {
	runLogSession := req.RunLogSessionID
	if runLogSession == "" {
		runLogSession = req.SessionID.String()
	}

	var (
		runs      []model.RunRecord
		runErr    error
		locals    []model.LocalMessage
		marker    *stream.Marker
		markerErr error
	)

	// The three source reads are independent; issue them together. Only
	// the ledger read can fail the request.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runs, runErr = s.runlog.FetchRuns(gctx, runLogSession)
		return nil
	})
	g.Go(func() error {
		var err error
		locals, err = s.ledger.ListMessages(gctx, req.SessionID, req.UserID)
		if err != nil {
			return fmt.Errorf("reconcile: list ledger messages: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		marker, markerErr = s.markers.GetActiveStream(gctx, runLogSession)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	degraded := false
	if runErr != nil {
		degraded = true
		runs = nil
		s.localFallback.Add(ctx, 1)
		s.logger.Warn("reconcile: run log unavailable, serving local-only transcript",
			"session_id", runLogSession, "error", runErr)
	}
	if markerErr != nil {
		marker = nil
		s.logger.Warn("reconcile: marker store lookup failed", "session_id", runLogSession, "error", markerErr)
	}

	norm := normalizeRuns(runLogSession, runs)

	runIDByStream := map[string]string{}
	activeStreamID := ""
	if marker != nil {
		activeStreamID = marker.StreamID
		if marker.RunID != "" {
			runIDByStream[marker.StreamID] = marker.RunID
		}
	}

	msgs := matchLedger(norm.messages, locals, runIDByStream, norm.newestRun, norm.hasNewest, activeStreamID)

	merged := len(msgs)
	msgs = dedupe(msgs)
	if dropped := merged - len(msgs); dropped > 0 {
		s.dedupDropped.Add(ctx, int64(dropped))
	}

	s.enrich(ctx, msgs, norm.summaries, req.UserID)

	msgs = applyStreamOverlay(msgs, marker, s.now())

	if !req.IncludeSystem {
		msgs = filterRole(msgs, model.RoleSystem)
	}

	sortChronological(msgs)
	recountRunMessages(norm.summaries, msgs)

	page, hasMore := paginate(msgs, req.Limit, req.BeforeMessageID)

	s.reads.Add(ctx, 1)
	return &Transcript{
		Messages:     page,
		HasMore:      hasMore,
		RunSummaries: norm.summaries,
		Degraded:     degraded,
	}, nil
}

func filterRole(msgs []model.CanonicalMessage, role model.Role) []model.CanonicalMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if m.Role != role {
			out = append(out, m)
		}
	}
	return out
}

// recountRunMessages updates each summary's message count to reflect the
// post-dedup transcript, so a run whose only message was collapsed away
// reports zero.
func recountRunMessages(summaries []model.RunSummary, msgs []model.CanonicalMessage) {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.RunID != "" {
			counts[m.RunID]++
		}
	}
	for i := range summaries {
		summaries[i].MessageCount = counts[summaries[i].RunID]
	}
}
