package reconcile

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// enrichLookupConcurrency bounds the parallel attachment/feedback
// lookups issued per reconciliation. The lookups are read-only and
// independent, so correctness does not depend on ordering.
const enrichLookupConcurrency = 8

// enrich resolves current agent display names, merges attachments from
// the index, attaches feedback to assistant messages, and distributes
// the agents_involved rollups onto messages. Lookup failures degrade to
// missing enrichment, never to a failed read.
func (s *Service) enrich(ctx context.Context, msgs []model.CanonicalMessage, summaries []model.RunSummary, userID uuid.UUID) {
	s.resolveAgentNames(ctx, msgs, summaries)

	summaryByRun := make(map[string]*model.RunSummary, len(summaries))
	for i := range summaries {
		summaryByRun[summaries[i].RunID] = &summaries[i]
	}
	for i := range msgs {
		if sum, ok := summaryByRun[msgs[i].RunID]; ok && msgs[i].RunID != "" {
			msgs[i].AgentsInvolved = sum.AgentsInvolved
			if msgs[i].TeamID == "" {
				msgs[i].TeamID = sum.TeamID
			}
			if msgs[i].TeamName == "" {
				msgs[i].TeamName = sum.TeamName
			}
		}
		if msgs[i].Attachments == nil {
			msgs[i].Attachments = []model.Attachment{}
		}
		if msgs[i].AgentsInvolved == nil {
			msgs[i].AgentsInvolved = []model.AgentRef{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLookupConcurrency)
	for i := range msgs {
		g.Go(func() error {
			s.attachIndexedAttachments(gctx, &msgs[i])
			if msgs[i].Role == model.RoleAssistant {
				s.attachFeedback(gctx, &msgs[i], userID)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// resolveAgentNames batch-resolves the current display name for every
// agent id referenced by messages and rollups. Historical names embedded
// in old run-log entries are never trusted; a directory miss keeps the
// recorded name as a fallback. String-form legacy ids (names recorded
// where an id belongs) are resolved to canonical ids by name lookup.
func (s *Service) resolveAgentNames(ctx context.Context, msgs []model.CanonicalMessage, summaries []model.RunSummary) {
	idSet := make(map[string]bool)
	collect := func(id string) {
		if id != "" {
			idSet[id] = true
		}
	}
	for i := range msgs {
		collect(msgs[i].AgentID)
	}
	for i := range summaries {
		collect(summaries[i].AgentID)
		for _, ref := range summaries[i].AgentsInvolved {
			collect(ref.AgentID)
		}
	}
	if len(idSet) == 0 {
		return
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	names, err := s.agents.ResolveAgentNames(ctx, ids)
	if err != nil {
		s.logger.Warn("reconcile: agent name resolution failed, keeping recorded names", "error", err)
		return
	}

	// Legacy run logs occasionally record the agent's name in the id
	// field. When the directory has no such id, try a name lookup and
	// fold the canonical id back in.
	canonical := make(map[string]string) // legacy id -> canonical id
	for _, id := range ids {
		if _, ok := names[id]; ok {
			continue
		}
		if looksLikeName(id) {
			if cid, err := s.agents.FindAgentIDByName(ctx, id); err == nil && cid != "" {
				canonical[id] = cid
				if name, ok := names[cid]; ok {
					names[id] = name
				} else {
					names[id] = id
				}
			}
		}
	}

	rewrite := func(agentID, recordedName string) (string, string) {
		id := agentID
		if cid, ok := canonical[agentID]; ok {
			id = cid
		}
		if name, ok := names[agentID]; ok && name != "" {
			return id, name
		}
		return id, recordedName
	}

	for i := range msgs {
		if msgs[i].AgentID != "" {
			msgs[i].AgentID, msgs[i].AgentName = rewrite(msgs[i].AgentID, msgs[i].AgentName)
		}
	}
	for i := range summaries {
		if summaries[i].AgentID != "" {
			summaries[i].AgentID, summaries[i].AgentName = rewrite(summaries[i].AgentID, summaries[i].AgentName)
		}
		for j, ref := range summaries[i].AgentsInvolved {
			if ref.AgentID != "" {
				id, name := rewrite(ref.AgentID, ref.AgentName)
				summaries[i].AgentsInvolved[j].AgentID = id
				summaries[i].AgentsInvolved[j].AgentName = name
			}
		}
	}
}

// looksLikeName reports whether an agent id is plausibly a display name
// rather than an identifier: it contains spaces or no digits at all.
func looksLikeName(id string) bool {
	if strings.ContainsRune(id, ' ') {
		return true
	}
	if _, err := uuid.Parse(id); err == nil {
		return false
	}
	return !strings.ContainsAny(id, "0123456789")
}

// attachIndexedAttachments merges attachments from the attachment index
// with those already inherited from ledger metadata. Messages whose
// original id predates the attachment-index migration have no indexed
// rows under their current id; the content-signature lookup recovers
// those.
func (s *Service) attachIndexedAttachments(ctx context.Context, msg *model.CanonicalMessage) {
	lookupID := msg.MessageID
	if msg.LocalMessageID != nil {
		lookupID = msg.LocalMessageID.String()
	}

	indexed, err := s.attachments.ListAttachments(ctx, lookupID)
	if err != nil {
		s.logger.Warn("reconcile: attachment lookup failed", "message_id", lookupID, "error", err)
		return
	}
	if len(indexed) == 0 && msg.LocalMessageID == nil && msg.Content != "" {
		indexed, err = s.attachments.FindByContentSignature(ctx, msg.Role, contentPrefix(normalizeContent(msg.Content)))
		if err != nil {
			s.logger.Warn("reconcile: attachment signature lookup failed", "message_id", lookupID, "error", err)
			return
		}
	}

	seen := make(map[string]bool, len(msg.Attachments))
	for _, a := range msg.Attachments {
		seen[a.ID] = true
	}
	for _, a := range indexed {
		if a.ID != "" && seen[a.ID] {
			continue
		}
		msg.Attachments = append(msg.Attachments, a)
	}
}

// attachFeedback looks up the caller's feedback for an assistant
// message. The lookup is case-insensitive on the message id: feedback
// written by older clients recorded uppercased UUIDs.
func (s *Service) attachFeedback(ctx context.Context, msg *model.CanonicalMessage, userID uuid.UUID) {
	lookupID := msg.MessageID
	if msg.LocalMessageID != nil {
		lookupID = msg.LocalMessageID.String()
	}
	fb, err := s.feedback.GetFeedback(ctx, lookupID, userID)
	if err != nil {
		s.logger.Warn("reconcile: feedback lookup failed", "message_id", lookupID, "error", err)
		return
	}
	msg.Feedback = fb
}
