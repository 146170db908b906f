// Package reconcile implements the transcript reconciliation engine:
// the merge-on-read pipeline that unifies the orchestrator's remote run
// log with the local message ledger into one deduplicated, ordered,
// paginated transcript. No step persists derived state; every read
// re-derives the transcript from the two sources.
package reconcile

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// messageNamespace scopes deterministic message ids. Fixed forever:
// changing it would re-identify every historical message.
var messageNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// contentPrefixRunes bounds how much content feeds identity hashing and
// content signatures. Long responses differ early; hashing the full body
// would only add cost.
const contentPrefixRunes = 200

// timestampSentinel stands in for an absent timestamp so MessageID
// remains total.
const timestampSentinel = "no-timestamp"

// MessageID derives a stable identifier from the coordinates of a
// message. Identical inputs always produce the identical id; any
// single-character change in content produces a different id.
func MessageID(sessionID, runID string, role string, content string, ts *time.Time) string {
	when := timestampSentinel
	if ts != nil {
		when = ts.UTC().Format(time.RFC3339Nano)
	}
	name := strings.Join([]string{
		sessionID,
		runID,
		role,
		contentPrefix(content),
		when,
	}, "\x1f")
	return uuid.NewSHA1(messageNamespace, []byte(name)).String()
}

// contentPrefix returns the first contentPrefixRunes runes of s.
func contentPrefix(s string) string {
	count := 0
	for i := range s {
		if count == contentPrefixRunes {
			return s[:i]
		}
		count++
	}
	return s
}

// normalizeContent collapses whitespace and lowercases content for
// comparison. Matching and dedup never compare raw content directly:
// the ledger and the run log disagree on trailing whitespace and
// paragraph spacing for the same message.
func normalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
