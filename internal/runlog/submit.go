package runlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// SubmitResult is the orchestrator's acknowledgement of a submitted
// turn. StreamID identifies the in-flight response; RunID is set once
// the orchestrator has allocated a run, which some versions defer.
type SubmitResult struct {
	StreamID string `json:"stream_id"`
	RunID    string `json:"run_id,omitempty"`
}

// SubmitRun forwards a user turn to the orchestrator and returns the
// stream acknowledgement. The caller has already written the message to
// its own ledger; a failure here means the turn will simply never gain
// a run-log counterpart.
func (c *Client) SubmitRun(ctx context.Context, sessionID, content, agentID string) (*SubmitResult, error) {
	payload := struct {
		Content string `json:"content"`
		AgentID string `json:"agent_id,omitempty"`
	}{Content: content, AgentID: agentID}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runlog: encode submission: %w", err)
	}

	path := c.baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("runlog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted:
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var result SubmitResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("runlog: decode response: %w", err)
	}
	return &result, nil
}
