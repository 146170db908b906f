package reconcile

import (
	"sort"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// sortChronological orders the transcript ascending by timestamp.
// Messages without timestamps sort first; equal timestamps preserve
// merge order, which already places user turns before their responses.
func sortChronological(msgs []model.CanonicalMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].Timestamp, msgs[j].Timestamp
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
}

// paginate applies the before-cursor and limit to a chronologically
// sorted transcript, returning the most recent qualifying window. An
// unknown cursor yields an empty page, not an error.
func paginate(msgs []model.CanonicalMessage, limit int, beforeMessageID string) (page []model.CanonicalMessage, hasMore bool) {
	window := msgs
	if beforeMessageID != "" {
		cut := -1
		for i, m := range msgs {
			if m.MessageID == beforeMessageID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, false
		}
		window = msgs[:cut]
	}

	if limit <= 0 {
		limit = model.DefaultTranscriptLimit
	}
	if len(window) > limit {
		return window[len(window)-limit:], true
	}
	return window, false
}
