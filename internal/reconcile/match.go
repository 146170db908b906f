package reconcile

import (
	"strings"
	"time"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// MatchScore grades how strongly a ledger row corresponds to a
// synthesized run-log message. Higher is stronger.
type MatchScore int

const (
	// MatchNone means the pair cannot represent the same message.
	MatchNone MatchScore = iota
	// MatchPrefix means same role and one normalized content is a prefix
	// of the other, within the tight time window.
	MatchPrefix
	// MatchExact means same role and equal normalized content within the
	// loose time window.
	MatchExact
)

// Time windows for content matching. Exact content tolerates the lag
// between the synchronous ledger write and the orchestrator's run-log
// write; prefix matches are held to a tighter window because prefix
// collisions across turns are far more likely.
const (
	exactMatchWindow  = 30 * time.Second
	prefixMatchWindow = 10 * time.Second
)

// Score is the pure content-matching heuristic between a ledger row and
// a candidate transcript message. It consults only role, normalized
// content, and timestamps, so thresholds are tunable in isolation.
func Score(local model.LocalMessage, cand model.CanonicalMessage) MatchScore {
	if local.Role != cand.Role {
		return MatchNone
	}
	a := normalizeContent(local.Content)
	b := normalizeContent(cand.Content)
	if a == "" || b == "" {
		return MatchNone
	}

	switch {
	case a == b:
		if withinWindow(local.CreatedAt, cand.Timestamp, exactMatchWindow) {
			return MatchExact
		}
	case strings.HasPrefix(a, b) || strings.HasPrefix(b, a):
		if withinWindow(local.CreatedAt, cand.Timestamp, prefixMatchWindow) {
			return MatchPrefix
		}
	}
	return MatchNone
}

// withinWindow reports whether two timestamps are within d of each other.
// A message without a timestamp matches any window: the run log
// occasionally omits created_at and content equality is then the only
// signal available.
func withinWindow(local time.Time, cand *time.Time, d time.Duration) bool {
	if cand == nil || local.IsZero() {
		return true
	}
	diff := local.Sub(*cand)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}

// matchLedger aligns ledger rows to the synthesized transcript. Each
// ledger row is consumed by at most one transcript message and each
// transcript message inherits from at most one ledger row. Unconsumed
// rows are appended standalone so no ledger content is ever lost; the
// only rows withheld are stale ones whose role and normalized content
// already appear verbatim in a run-derived message, where appending
// would show the same turn twice.
func matchLedger(msgs []model.CanonicalMessage, locals []model.LocalMessage, runIDByStream map[string]string, newestRun time.Time, hasNewest bool, activeStreamID string) []model.CanonicalMessage {
	// Only run-derived messages are match candidates; rows appended
	// below never absorb other ledger rows.
	synth := len(msgs)
	inherited := make([]bool, synth)

	for _, local := range locals {
		idx := findMatch(msgs[:synth], inherited, local, runIDByStream)
		if idx >= 0 {
			inheritLocal(&msgs[idx], local)
			inherited[idx] = true
			continue
		}

		streamID := local.StreamID()
		fresh := !hasNewest || local.CreatedAt.After(newestRun)
		awaited := activeStreamID != "" && streamID == activeStreamID
		if !fresh && !awaited && duplicatesSynthesized(msgs[:synth], local) {
			continue
		}

		ts := local.CreatedAt
		msgs = append(msgs, model.CanonicalMessage{
			MessageID:      local.ID.String(),
			Role:           local.Role,
			Content:        local.Content,
			Timestamp:      &ts,
			AgentID:        local.AgentID,
			Attachments:    local.Attachments(),
			CustomFields:   local.CustomFields(),
			StreamID:       streamID,
			LocalMessageID: &local.ID,
		})
	}
	return msgs
}

// findMatch runs the match cascade for one ledger row: literal id
// equality, then the content heuristic (strongest score, closest
// timestamp tie-break), then the stream-to-run mapping.
func findMatch(msgs []model.CanonicalMessage, inherited []bool, local model.LocalMessage, runIDByStream map[string]string) int {
	localID := local.ID.String()
	for i := range msgs {
		if !inherited[i] && msgs[i].MessageID == localID {
			return i
		}
	}

	best := -1
	bestScore := MatchNone
	var bestDiff time.Duration
	for i := range msgs {
		if inherited[i] {
			continue
		}
		score := Score(local, msgs[i])
		if score == MatchNone {
			continue
		}
		diff := timeDiff(local.CreatedAt, msgs[i].Timestamp)
		if score > bestScore || (score == bestScore && diff < bestDiff) {
			best, bestScore, bestDiff = i, score, diff
		}
	}
	if best >= 0 {
		return best
	}

	if streamID := local.StreamID(); streamID != "" {
		if runID := runIDByStream[streamID]; runID != "" {
			for i := range msgs {
				if !inherited[i] && msgs[i].RunID == runID && msgs[i].Role == model.RoleAssistant {
					return i
				}
			}
		}
	}
	return -1
}

// duplicatesSynthesized reports whether a run-derived message already
// carries the row's role and normalized content, regardless of how far
// apart the timestamps are. Empty content counts as duplicated: there
// is nothing to show for it.
func duplicatesSynthesized(msgs []model.CanonicalMessage, local model.LocalMessage) bool {
	c := normalizeContent(local.Content)
	if c == "" {
		return true
	}
	for i := range msgs {
		if msgs[i].Role == local.Role && normalizeContent(msgs[i].Content) == c {
			return true
		}
	}
	return false
}

func timeDiff(local time.Time, cand *time.Time) time.Duration {
	if cand == nil || local.IsZero() {
		return 0
	}
	d := local.Sub(*cand)
	if d < 0 {
		d = -d
	}
	return d
}

// inheritLocal carries ledger-only state onto the matched transcript
// message: attachments, custom metadata, the stream marker, and the
// local id that feedback is keyed by. The message id becomes the local
// id so cursors issued before reconciliation existed keep working.
func inheritLocal(msg *model.CanonicalMessage, local model.LocalMessage) {
	msg.MessageID = local.ID.String()
	id := local.ID
	msg.LocalMessageID = &id
	msg.Attachments = append(msg.Attachments, local.Attachments()...)
	if msg.StreamID == "" {
		msg.StreamID = local.StreamID()
	}
	if msg.AgentID == "" {
		msg.AgentID = local.AgentID
	}
	if fields := local.CustomFields(); fields != nil {
		if msg.CustomFields == nil {
			msg.CustomFields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			msg.CustomFields[k] = v
		}
	}
}
