package reconcile

import (
	"time"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// normalized is the output of the run-log normalization stage: synthesized
// canonical messages, one summary entry per top-level run, and the newest
// run timestamp observed (used by the matcher's "just sent" rule).
type normalized struct {
	messages   []model.CanonicalMessage
	summaries  []model.RunSummary
	newestRun  time.Time
	hasNewest  bool
}

// normalizeRuns filters child runs out of direct message synthesis and
// produces at most one user and one assistant message per remaining run.
// Child runs still contribute their events and member responses to the
// parent's agents_involved rollup.
func normalizeRuns(sessionID string, runs []model.RunRecord) normalized {
	// A run referenced as someone else's parent_run_id is a parent; a run
	// whose parent_run_id names another run in this fetch is a child.
	known := make(map[string]bool, len(runs))
	for _, r := range runs {
		known[r.RunID] = true
	}

	childrenOf := make(map[string][]model.RunRecord)
	var topLevel []model.RunRecord
	for _, r := range runs {
		if r.ParentRunID != "" && known[r.ParentRunID] {
			childrenOf[r.ParentRunID] = append(childrenOf[r.ParentRunID], r)
			continue
		}
		topLevel = append(topLevel, r)
	}

	var out normalized
	for _, run := range topLevel {
		var ts *time.Time
		if run.HasCreatedAt {
			t := run.CreatedAt
			ts = &t
			if !out.hasNewest || t.After(out.newestRun) {
				out.newestRun = t
				out.hasNewest = true
			}
		}

		count := 0
		if run.InputContent != "" {
			out.messages = append(out.messages, model.CanonicalMessage{
				MessageID: MessageID(sessionID, run.RunID, string(model.RoleUser), run.InputContent, ts),
				Role:      model.RoleUser,
				Content:   run.InputContent,
				Timestamp: ts,
				RunID:     run.RunID,
				AgentID:   run.AgentID,
				AgentName: run.AgentName,
				TeamID:    run.TeamID,
				TeamName:  run.TeamName,
			})
			count++
		}
		if run.Content != "" {
			// Assistant output lands a moment after the prompt; offset the
			// synthesized timestamp so user-before-assistant ordering holds
			// even though the run log records one timestamp per run.
			ats := ts
			if ts != nil {
				t := ts.Add(time.Millisecond)
				ats = &t
			}
			out.messages = append(out.messages, model.CanonicalMessage{
				MessageID: MessageID(sessionID, run.RunID, string(model.RoleAssistant), run.Content, ts),
				Role:      model.RoleAssistant,
				Content:   run.Content,
				Timestamp: ats,
				RunID:     run.RunID,
				AgentID:   run.AgentID,
				AgentName: run.AgentName,
				TeamID:    run.TeamID,
				TeamName:  run.TeamName,
			})
			count++
		}

		out.summaries = append(out.summaries, summarizeRun(run, childrenOf[run.RunID], count))
	}
	return out
}

// summarizeRun builds the grouping entry for one top-level run, unioning
// agent references from the run itself, its member responses, its events,
// and all of the same from its delegated child runs.
func summarizeRun(run model.RunRecord, children []model.RunRecord, messageCount int) model.RunSummary {
	s := model.RunSummary{
		RunID:        run.RunID,
		AgentID:      run.AgentID,
		AgentName:    run.AgentName,
		TeamID:       run.TeamID,
		TeamName:     run.TeamName,
		Status:       run.Status,
		MessageCount: messageCount,
		Events:       run.Events,
	}
	if run.HasCreatedAt {
		t := run.CreatedAt
		s.CreatedAt = &t
	}

	seen := make(map[string]bool)
	add := func(ref model.AgentRef) {
		key := ref.AgentID
		if key == "" {
			key = "name:" + ref.AgentName
		}
		if key == "name:" || seen[key] {
			return
		}
		seen[key] = true
		s.AgentsInvolved = append(s.AgentsInvolved, ref)
	}

	// The primary agent counts as involved when the run is a delegation
	// (a team run); a plain single-agent run's agent is the message author
	// and already visible on the messages themselves.
	if run.TeamID != "" || run.TeamName != "" {
		add(model.AgentRef{AgentID: run.AgentID, AgentName: run.AgentName})
	}
	collectAgentRefs(run, add)
	for _, child := range children {
		add(model.AgentRef{AgentID: child.AgentID, AgentName: child.AgentName})
		collectAgentRefs(child, add)
	}
	return s
}

func collectAgentRefs(run model.RunRecord, add func(model.AgentRef)) {
	for _, mr := range run.MemberResponses {
		add(model.AgentRef{AgentID: mr.AgentID, AgentPublicID: mr.AgentPublicID, AgentName: mr.AgentName})
	}
	for _, ev := range run.Events {
		add(model.AgentRef{AgentID: ev.AgentID, AgentName: ev.AgentName})
	}
}
