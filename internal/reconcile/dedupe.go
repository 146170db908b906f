package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// signatureTolerance bounds how far apart two same-signature messages
// may be and still count as the same message. Entries further apart are
// genuinely distinct (e.g. a regenerated response).
const signatureTolerance = 5 * time.Second

// dedupe collapses the merged transcript in three passes: identical ids,
// identical content signatures within a run, and assistant fragments
// wholly contained in a longer assistant message.
func dedupe(msgs []model.CanonicalMessage) []model.CanonicalMessage {
	msgs = dedupeByID(msgs)
	msgs = dedupeBySignature(msgs)
	return dropContainedAssistant(msgs)
}

// dedupeByID keeps the latest-timestamped entry per message id,
// preserving first-seen order of the survivors.
func dedupeByID(msgs []model.CanonicalMessage) []model.CanonicalMessage {
	keep := make(map[string]int, len(msgs))
	var order []string
	for i, m := range msgs {
		prev, ok := keep[m.MessageID]
		if !ok {
			keep[m.MessageID] = i
			order = append(order, m.MessageID)
			continue
		}
		if later(m.Timestamp, msgs[prev].Timestamp) {
			keep[m.MessageID] = i
		}
	}

	out := make([]model.CanonicalMessage, 0, len(order))
	for _, id := range order {
		out = append(out, msgs[keep[id]])
	}
	return out
}

// dedupeBySignature collapses entries sharing (role, content prefix,
// run id) when their timestamps are within signatureTolerance.
func dedupeBySignature(msgs []model.CanonicalMessage) []model.CanonicalMessage {
	type sig struct {
		role   model.Role
		prefix string
		runID  string
	}

	var out []model.CanonicalMessage
	kept := make(map[sig][]int) // signature -> indexes into out
	for _, m := range msgs {
		key := sig{m.Role, contentPrefix(normalizeContent(m.Content)), m.RunID}

		replaced := false
		for _, i := range kept[key] {
			if !within(m.Timestamp, out[i].Timestamp, signatureTolerance) {
				continue
			}
			if later(m.Timestamp, out[i].Timestamp) {
				out[i] = m
			}
			replaced = true
			break
		}
		if !replaced {
			kept[key] = append(kept[key], len(out))
			out = append(out, m)
		}
	}
	return out
}

// dropContainedAssistant removes assistant messages whose content is a
// proper substring of a strictly longer assistant message: partial
// sub-agent fragments subsumed by the combined team response. The scan
// spans the whole transcript, so a short answer repeated inside a later
// run's response collapses too.
func dropContainedAssistant(msgs []model.CanonicalMessage) []model.CanonicalMessage {
	type entry struct {
		idx  int
		norm string
	}
	var assistants []entry
	for i, m := range msgs {
		if m.Role == model.RoleAssistant {
			assistants = append(assistants, entry{i, normalizeContent(m.Content)})
		}
	}
	if len(assistants) < 2 {
		return msgs
	}

	// Longest first so each fragment is checked against every message
	// that could contain it.
	sort.SliceStable(assistants, func(i, j int) bool {
		return len(assistants[i].norm) > len(assistants[j].norm)
	})

	drop := make(map[int]bool)
	for i, shorter := range assistants {
		if shorter.norm == "" {
			continue
		}
		for _, longer := range assistants[:i] {
			if drop[longer.idx] || len(longer.norm) <= len(shorter.norm) {
				continue
			}
			if strings.Contains(longer.norm, shorter.norm) {
				drop[shorter.idx] = true
				break
			}
		}
	}
	if len(drop) == 0 {
		return msgs
	}

	out := msgs[:0]
	for i, m := range msgs {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}

// later reports whether a is strictly after b, treating a missing
// timestamp as earliest.
func later(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func within(a, b *time.Time, d time.Duration) bool {
	if a == nil || b == nil {
		return true
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}
