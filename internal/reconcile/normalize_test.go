package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsumugi/internal/model"
)

func runAt(id string, t time.Time) model.RunRecord {
	return model.RunRecord{RunID: id, CreatedAt: t, HasCreatedAt: true}
}

func TestNormalizeRunsSynthesizesUserAndAssistant(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	run := runAt("r1", ts)
	run.InputContent = "what is the capital of France?"
	run.Content = "The capital of France is Paris."
	run.AgentID = "agent-1"
	run.AgentName = "Atlas"
	run.Status = model.RunStatusCompleted

	norm := normalizeRuns("sess-1", []model.RunRecord{run})
	require.Len(t, norm.messages, 2)

	user, assistant := norm.messages[0], norm.messages[1]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "what is the capital of France?", user.Content)
	assert.Equal(t, "r1", user.RunID)
	require.NotNil(t, user.Timestamp)
	assert.True(t, user.Timestamp.Equal(ts))

	assert.Equal(t, model.RoleAssistant, assistant.Role)
	assert.Equal(t, "The capital of France is Paris.", assistant.Content)
	assert.Equal(t, "agent-1", assistant.AgentID)
	require.NotNil(t, assistant.Timestamp)
	assert.True(t, assistant.Timestamp.After(ts), "assistant must sort after the user turn")

	assert.NotEqual(t, user.MessageID, assistant.MessageID)

	require.Len(t, norm.summaries, 1)
	assert.Equal(t, 2, norm.summaries[0].MessageCount)
	assert.Equal(t, model.RunStatusCompleted, norm.summaries[0].Status)
}

func TestNormalizeRunsSkipsEmptySides(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	run := runAt("r1", ts)
	run.InputContent = "hello"

	norm := normalizeRuns("sess-1", []model.RunRecord{run})
	require.Len(t, norm.messages, 1)
	assert.Equal(t, model.RoleUser, norm.messages[0].Role)

	// A run with neither side still appears in the summaries.
	empty := runAt("r2", ts.Add(time.Minute))
	norm = normalizeRuns("sess-1", []model.RunRecord{run, empty})
	assert.Len(t, norm.messages, 1)
	assert.Len(t, norm.summaries, 2)
	assert.Equal(t, 0, norm.summaries[1].MessageCount)
}

func TestNormalizeRunsExcludesChildRuns(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	parent := runAt("r1", ts)
	parent.InputContent = "plan my trip"
	parent.Content = "Here is your itinerary."
	parent.AgentID = "lead"
	parent.AgentName = "Lead"
	parent.TeamID = "team-1"
	parent.TeamName = "Travel Team"

	child := runAt("r2", ts.Add(time.Second))
	child.ParentRunID = "r1"
	child.AgentID = "weather"
	child.AgentName = "Weather"
	child.InputContent = "check the forecast"
	child.Content = "Sunny all week."

	norm := normalizeRuns("sess-1", []model.RunRecord{parent, child})

	// The child's messages never surface directly.
	require.Len(t, norm.messages, 2)
	for _, m := range norm.messages {
		assert.Equal(t, "r1", m.RunID)
	}

	// But its agent is rolled into the parent's agents_involved.
	require.Len(t, norm.summaries, 1)
	involved := norm.summaries[0].AgentsInvolved
	ids := make([]string, 0, len(involved))
	for _, ref := range involved {
		ids = append(ids, ref.AgentID)
	}
	assert.Contains(t, ids, "lead")
	assert.Contains(t, ids, "weather")
}

func TestNormalizeRunsOrphanParentIDIsTopLevel(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	run := runAt("r1", ts)
	run.ParentRunID = "gone" // parent not in this fetch
	run.Content = "standalone answer"

	norm := normalizeRuns("sess-1", []model.RunRecord{run})
	assert.Len(t, norm.messages, 1)
	assert.Len(t, norm.summaries, 1)
}

func TestNormalizeRunsAgentRollupUnion(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	run := runAt("r1", ts)
	run.Content = "combined answer"
	run.AgentID = "lead"
	run.AgentName = "Lead"
	run.TeamName = "Research Team"
	run.MemberResponses = []model.MemberResponse{
		{AgentID: "a2", AgentName: "Scout"},
		{AgentID: "a2", AgentName: "Scout"}, // duplicate collapses
	}
	run.Events = []model.RunEvent{
		{EventType: "RunStarted", AgentID: "a3", AgentName: "Critic"},
		{EventType: "RunCompleted", AgentID: "a3", AgentName: "Critic"},
	}

	norm := normalizeRuns("sess-1", []model.RunRecord{run})
	require.Len(t, norm.summaries, 1)

	involved := norm.summaries[0].AgentsInvolved
	require.Len(t, involved, 3)
	assert.Equal(t, "lead", involved[0].AgentID)
	assert.Equal(t, "a2", involved[1].AgentID)
	assert.Equal(t, "a3", involved[2].AgentID)
}

func TestNormalizeRunsSingleAgentRunOmitsPrimaryFromRollup(t *testing.T) {
	ts := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	run := runAt("r1", ts)
	run.Content = "plain answer"
	run.AgentID = "solo"
	run.AgentName = "Solo"

	norm := normalizeRuns("sess-1", []model.RunRecord{run})
	require.Len(t, norm.summaries, 1)
	assert.Empty(t, norm.summaries[0].AgentsInvolved,
		"a non-delegated run's author is not an involved agent")
}

func TestNormalizeRunsNewestRunTracking(t *testing.T) {
	t1 := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	norm := normalizeRuns("sess-1", []model.RunRecord{runAt("r1", t1), runAt("r2", t2)})
	assert.True(t, norm.hasNewest)
	assert.True(t, norm.newestRun.Equal(t2))

	norm = normalizeRuns("sess-1", []model.RunRecord{{RunID: "r3"}})
	assert.False(t, norm.hasNewest)

	norm = normalizeRuns("sess-1", nil)
	assert.False(t, norm.hasNewest)
	assert.Empty(t, norm.messages)
	assert.Empty(t, norm.summaries)
}
