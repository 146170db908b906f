package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

type fakeRunLog struct {
	runs []model.RunRecord
	err  error
}

func (f *fakeRunLog) FetchRuns(context.Context, string) ([]model.RunRecord, error) {
	return f.runs, f.err
}

type fakeLedger struct {
	msgs []model.LocalMessage
	err  error
}

func (f *fakeLedger) ListMessages(context.Context, uuid.UUID, uuid.UUID) ([]model.LocalMessage, error) {
	return f.msgs, f.err
}

type fakeDirectory struct {
	names  map[string]string // agent id -> current display name
	byName map[string]string // display name -> agent id
}

func (f *fakeDirectory) ResolveAgentNames(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (f *fakeDirectory) FindAgentIDByName(_ context.Context, name string) (string, error) {
	return f.byName[name], nil
}

type fakeAttachments struct {
	byID  map[string][]model.Attachment
	bySig map[string][]model.Attachment
}

func (f *fakeAttachments) ListAttachments(_ context.Context, messageID string) ([]model.Attachment, error) {
	return f.byID[messageID], nil
}

func (f *fakeAttachments) FindByContentSignature(_ context.Context, _ model.Role, prefix string) ([]model.Attachment, error) {
	return f.bySig[prefix], nil
}

type fakeFeedback struct {
	byID map[string]*model.Feedback
}

func (f *fakeFeedback) GetFeedback(_ context.Context, messageID string, _ uuid.UUID) (*model.Feedback, error) {
	return f.byID[messageID], nil
}

func newTestService(t *testing.T, d Deps) *Service {
	t.Helper()
	if d.RunLog == nil {
		d.RunLog = &fakeRunLog{}
	}
	if d.Ledger == nil {
		d.Ledger = &fakeLedger{}
	}
	if d.Agents == nil {
		d.Agents = &fakeDirectory{}
	}
	if d.Attachments == nil {
		d.Attachments = &fakeAttachments{}
	}
	if d.Feedback == nil {
		d.Feedback = &fakeFeedback{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewService(d)
}

func baseRequest() Request {
	return Request{
		SessionID: uuid.New(),
		UserID:    uuid.New(),
		Limit:     model.MaxTranscriptLimit,
	}
}

func TestReconcileMergesRunAndLedger(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	local := model.LocalMessage{
		ID:        uuid.New(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      model.RoleUser,
		Content:   "hi",
		CreatedAt: at,
	}
	run := model.RunRecord{
		RunID: "r1", CreatedAt: at.Add(2 * time.Second), HasCreatedAt: true,
		InputContent: "hi", Content: "hello! how can I help?",
		Status: model.RunStatusCompleted,
	}

	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: []model.RunRecord{run}},
		Ledger: &fakeLedger{msgs: []model.LocalMessage{local}},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2, "the local user row and the run's user turn are one message")
	assert.False(t, tr.Degraded)
	assert.False(t, tr.HasMore)

	assert.Equal(t, model.RoleUser, tr.Messages[0].Role)
	assert.Equal(t, local.ID.String(), tr.Messages[0].MessageID)
	assert.Equal(t, model.RoleAssistant, tr.Messages[1].Role)
	assert.Equal(t, "hello! how can I help?", tr.Messages[1].Content)

	require.Len(t, tr.RunSummaries, 1)
	assert.Equal(t, 2, tr.RunSummaries[0].MessageCount)
}

func TestReconcileIsIdempotent(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	runs := []model.RunRecord{
		{RunID: "r1", CreatedAt: at, HasCreatedAt: true, InputContent: "one", Content: "first answer"},
		{RunID: "r2", CreatedAt: at.Add(time.Minute), HasCreatedAt: true, InputContent: "two", Content: "second answer"},
	}
	locals := []model.LocalMessage{
		{ID: uuid.New(), Role: model.RoleUser, Content: "one", CreatedAt: at},
		{ID: uuid.New(), Role: model.RoleUser, Content: "two", CreatedAt: at.Add(time.Minute)},
	}

	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: runs},
		Ledger: &fakeLedger{msgs: locals},
		Now:    func() time.Time { return at.Add(time.Hour) },
	})

	first, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Messages, second.Messages,
		"reading twice with unchanged sources yields an identical transcript")
	assert.Equal(t, first.RunSummaries, second.RunSummaries)
}

func TestReconcileDegradesWhenRunLogUnavailable(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	locals := []model.LocalMessage{
		{ID: uuid.New(), Role: model.RoleUser, Content: "still here?", CreatedAt: at},
	}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{err: errors.New("connect: connection refused")},
		Ledger: &fakeLedger{msgs: locals},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err, "run-log failure must not fail the read")
	assert.True(t, tr.Degraded)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "still here?", tr.Messages[0].Content)
	assert.Empty(t, tr.RunSummaries)
}

func TestReconcileLedgerFailureIsFatal(t *testing.T) {
	svc := newTestService(t, Deps{
		Ledger: &fakeLedger{err: errors.New("pg down")},
	})
	_, err := svc.Reconcile(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list ledger messages")
}

func TestReconcileEmptySessionYieldsEmptyTranscript(t *testing.T) {
	svc := newTestService(t, Deps{})
	tr, err := svc.Reconcile(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Empty(t, tr.Messages)
	assert.Empty(t, tr.RunSummaries)
	assert.False(t, tr.HasMore)
	assert.False(t, tr.Degraded)
}

func TestReconcileFiltersSystemMessages(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	locals := []model.LocalMessage{
		{ID: uuid.New(), Role: model.RoleSystem, Content: "session initialized", CreatedAt: at},
		{ID: uuid.New(), Role: model.RoleUser, Content: "hi", CreatedAt: at.Add(time.Second)},
	}
	svc := newTestService(t, Deps{Ledger: &fakeLedger{msgs: locals}})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, model.RoleUser, tr.Messages[0].Role)

	req.IncludeSystem = true
	tr, err = svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, tr.Messages, 2)
}

func TestReconcileStreamingPlaceholder(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.RunLogSessionID = "sess-ext"

	markers := stream.NewMemoryStore(time.Minute, func() time.Time { return at })
	t.Cleanup(func() { _ = markers.Close() })
	markers.Put(stream.Marker{
		StreamID:  "st-1",
		SessionID: "sess-ext",
		RunID:     "r-pending",
		Status:    "streaming",
	})

	locals := []model.LocalMessage{
		{ID: uuid.New(), Role: model.RoleUser, Content: "write me a poem", CreatedAt: at},
	}
	svc := newTestService(t, Deps{
		Ledger:  &fakeLedger{msgs: locals},
		Markers: markers,
		Now:     func() time.Time { return at.Add(time.Second) },
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2)

	assert.Equal(t, "st-1", tr.Messages[0].StreamID)
	assert.Equal(t, model.StreamStatusStreaming, tr.Messages[0].StreamStatus)

	placeholder := tr.Messages[1]
	assert.Equal(t, model.RoleAssistant, placeholder.Role)
	assert.Equal(t, model.StreamStatusStreaming, placeholder.StreamStatus)
	assert.Empty(t, placeholder.Content)
}

func TestReconcileResolvesAgentNames(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	runs := []model.RunRecord{{
		RunID: "r1", CreatedAt: at, HasCreatedAt: true,
		Content: "done", AgentID: "agent-1", AgentName: "Old Name",
	}}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: runs},
		Agents: &fakeDirectory{names: map[string]string{"agent-1": "Atlas"}},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "Atlas", tr.Messages[0].AgentName,
		"the directory's current name overrides the recorded one")
}

func TestReconcileResolvesLegacyNameAsID(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	runs := []model.RunRecord{{
		RunID: "r1", CreatedAt: at, HasCreatedAt: true,
		Content: "done", AgentID: "Weather Agent",
	}}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: runs},
		Agents: &fakeDirectory{
			names:  map[string]string{"agent-7": "Weather Agent"},
			byName: map[string]string{"Weather Agent": "agent-7"},
		},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "agent-7", tr.Messages[0].AgentID,
		"a name recorded in the id field resolves to the canonical id")
	assert.Equal(t, "Weather Agent", tr.Messages[0].AgentName)
}

func TestReconcileAttachesFeedbackAndAttachments(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	localUser := model.LocalMessage{
		ID: uuid.New(), Role: model.RoleUser, Content: "analyze this", CreatedAt: at,
	}
	runs := []model.RunRecord{{
		RunID: "r1", CreatedAt: at.Add(time.Second), HasCreatedAt: true,
		InputContent: "analyze this", Content: "analysis complete",
	}}

	fb := &model.Feedback{FeedbackID: "fb-1", Reaction: "like"}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: runs},
		Ledger: &fakeLedger{msgs: []model.LocalMessage{localUser}},
		Attachments: &fakeAttachments{byID: map[string][]model.Attachment{
			localUser.ID.String(): {{ID: "att-1", Filename: "data.csv"}},
		}},
		Feedback: &fakeFeedback{byID: func() map[string]*model.Feedback {
			out := make(map[string]*model.Feedback)
			// Feedback is keyed by the derived assistant id.
			ts := at.Add(time.Second)
			out[MessageID(req.SessionID.String(), "r1", "assistant", "analysis complete", &ts)] = fb
			return out
		}()},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2)

	require.Len(t, tr.Messages[0].Attachments, 1)
	assert.Equal(t, "data.csv", tr.Messages[0].Attachments[0].Filename)

	require.NotNil(t, tr.Messages[1].Feedback)
	assert.Equal(t, "like", tr.Messages[1].Feedback.Reaction)
	assert.Nil(t, tr.Messages[0].Feedback, "feedback attaches to assistant messages only")
}

func TestReconcilePagination(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.Limit = 2

	var runs []model.RunRecord
	for i := 0; i < 4; i++ {
		runs = append(runs, model.RunRecord{
			RunID:        uuid.NewString(),
			CreatedAt:    at.Add(time.Duration(i) * time.Minute),
			HasCreatedAt: true,
			InputContent: "question",
			Content:      "answer number " + string(rune('0'+i)),
		})
	}
	svc := newTestService(t, Deps{RunLog: &fakeRunLog{runs: runs}})

	page1, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page1.Messages, 2)
	assert.True(t, page1.HasMore)

	req.BeforeMessageID = page1.Messages[0].MessageID
	page2, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 2)
	assert.True(t, page2.HasMore)

	// The pages never overlap and stay in order.
	for _, older := range page2.Messages {
		for _, newer := range page1.Messages {
			assert.NotEqual(t, older.MessageID, newer.MessageID)
			if older.Timestamp != nil && newer.Timestamp != nil {
				assert.True(t, older.Timestamp.Before(*newer.Timestamp))
			}
		}
	}
}

func TestReconcileFreshLocalMessageSurvives(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	runs := []model.RunRecord{{
		RunID: "r1", CreatedAt: at, HasCreatedAt: true,
		InputContent: "old question", Content: "old answer",
	}}
	justSent := model.LocalMessage{
		ID: uuid.New(), Role: model.RoleUser,
		Content: "brand new question", CreatedAt: at.Add(time.Minute),
	}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: runs},
		Ledger: &fakeLedger{msgs: []model.LocalMessage{justSent}},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 3)
	assert.Equal(t, "brand new question", tr.Messages[2].Content,
		"a message newer than the newest run appears even before the orchestrator logs it")
}

func TestReconcileChildRunsExcluded(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	req := baseRequest()

	parent := model.RunRecord{
		RunID: "r1", CreatedAt: at, HasCreatedAt: true,
		InputContent: "what's the weather in Osaka?",
		Content:      "Osaka is sunny, 24°C.",
		AgentID:      "lead", AgentName: "Lead",
		TeamID: "team-1", TeamName: "Concierge",
	}
	child := model.RunRecord{
		RunID: "r2", ParentRunID: "r1", CreatedAt: at.Add(time.Second), HasCreatedAt: true,
		InputContent: "forecast osaka", Content: "sunny 24",
		AgentID: "weather", AgentName: "Weather",
	}
	svc := newTestService(t, Deps{
		RunLog: &fakeRunLog{runs: []model.RunRecord{parent, child}},
		Agents: &fakeDirectory{names: map[string]string{"lead": "Lead", "weather": "Weather"}},
	})

	tr, err := svc.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2, "the child run's turns never surface")

	require.Len(t, tr.RunSummaries, 1)
	involved := tr.RunSummaries[0].AgentsInvolved
	names := make([]string, 0, len(involved))
	for _, ref := range involved {
		names = append(names, ref.AgentName)
	}
	assert.ElementsMatch(t, []string{"Lead", "Weather"}, names)

	assert.Len(t, tr.Messages[1].AgentsInvolved, 2,
		"the rollup rides on the parent run's messages")
}
