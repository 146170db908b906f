// Package model defines the core domain types for Tsumugi.
//
// Two families of types live here: records read from external systems
// (RunRecord from the orchestrator's run log, LocalMessage from the
// Postgres ledger) and the reconciled output types (CanonicalMessage,
// RunSummary) that exist only for the duration of one read.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of an orchestrator run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is one entry of the remote run log, roughly one user turn.
// Immutable once written by the orchestrator. The wire shape varies
// between orchestrator versions, so decoding is tolerant: unknown or
// malformed optional fields degrade to their zero value rather than
// failing the whole record.
type RunRecord struct {
	RunID           string
	ParentRunID     string
	TeamID          string
	TeamName        string
	AgentID         string
	AgentName       string
	Status          RunStatus
	CreatedAt       time.Time
	HasCreatedAt    bool
	InputContent    string
	Content         string
	Events          []RunEvent
	MemberResponses []MemberResponse
}

// RunEvent is a single lifecycle event within a run.
type RunEvent struct {
	EventType string `json:"event"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	TeamID    string `json:"team_id,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
}

// MemberResponse records one delegated sub-agent's contribution to a run.
type MemberResponse struct {
	AgentID       string `json:"agent_id"`
	AgentPublicID string `json:"agent_public_id,omitempty"`
	AgentName     string `json:"agent_name"`
}

// runRecordWire is the raw JSON shape of a run-log entry. Fields whose
// type varies across orchestrator versions are captured as RawMessage
// and decoded by hand.
type runRecordWire struct {
	RunID           string           `json:"run_id"`
	ParentRunID     *string          `json:"parent_run_id"`
	TeamID          *string          `json:"team_id"`
	TeamName        *string          `json:"team_name"`
	AgentID         json.RawMessage  `json:"agent_id"`
	AgentName       *string          `json:"agent_name"`
	Status          string           `json:"status"`
	CreatedAt       json.RawMessage  `json:"created_at"`
	Input           json.RawMessage  `json:"input"`
	Content         *string          `json:"content"`
	Events          []RunEvent       `json:"events"`
	MemberResponses []MemberResponse `json:"member_responses"`
}

// UnmarshalJSON decodes a run-log entry tolerantly. A record without a
// run_id is malformed and rejected; everything else is optional.
func (r *RunRecord) UnmarshalJSON(data []byte) error {
	var w runRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("model: decode run record: %w", err)
	}
	if w.RunID == "" {
		return fmt.Errorf("model: run record missing run_id")
	}

	r.RunID = w.RunID
	r.ParentRunID = deref(w.ParentRunID)
	r.TeamID = deref(w.TeamID)
	r.TeamName = deref(w.TeamName)
	r.AgentID = decodeStringish(w.AgentID)
	r.AgentName = deref(w.AgentName)
	r.Status = normalizeRunStatus(w.Status)
	r.CreatedAt, r.HasCreatedAt = decodeFlexibleTime(w.CreatedAt)
	r.InputContent = decodeInputContent(w.Input)
	r.Content = deref(w.Content)
	r.Events = w.Events
	r.MemberResponses = w.MemberResponses
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeStringish accepts a JSON string or number and returns its string
// form. Legacy run logs carry numeric agent ids.
func decodeStringish(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeFlexibleTime accepts an epoch (integer or float seconds) or an
// RFC 3339 string. Returns false when the field is absent or unparseable.
func decodeFlexibleTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		// Some orchestrator versions emit epoch seconds as a string.
		if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// inputPart is one role-tagged entry of a list-form run input.
type inputPart struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// decodeInputContent extracts the user prompt from a run's input field.
// The input is a bare string, {"content": "..."}, or {"content":
// [{"role": ..., "content": ...}, ...]} where the first user-role part
// is the prompt.
func decodeInputContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}

	var wrapper struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || len(wrapper.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(wrapper.Content, &s); err == nil {
		return s
	}

	var parts []inputPart
	if err := json.Unmarshal(wrapper.Content, &parts); err == nil {
		for _, p := range parts {
			if p.Role != "user" {
				continue
			}
			var content string
			if err := json.Unmarshal(p.Content, &content); err == nil {
				return content
			}
		}
	}
	return ""
}

func normalizeRunStatus(s string) RunStatus {
	switch strings.ToLower(s) {
	case "completed":
		return RunStatusCompleted
	case "failed":
		return RunStatusFailed
	default:
		return RunStatusRunning
	}
}

// AgentRef identifies one agent that participated in a run.
type AgentRef struct {
	AgentID       string `json:"agent_id"`
	AgentPublicID string `json:"agent_public_id,omitempty"`
	AgentName     string `json:"agent_name"`
}

// RunSummary is the per-run grouping entry returned alongside the
// transcript. Retained even for runs that produced no messages.
type RunSummary struct {
	RunID          string     `json:"run_id"`
	AgentID        string     `json:"agent_id,omitempty"`
	AgentName      string     `json:"agent_name,omitempty"`
	TeamID         string     `json:"team_id,omitempty"`
	TeamName       string     `json:"team_name,omitempty"`
	Status         RunStatus  `json:"status"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	MessageCount   int        `json:"message_count"`
	Events         []RunEvent `json:"events"`
	AgentsInvolved []AgentRef `json:"agents_involved"`
}
