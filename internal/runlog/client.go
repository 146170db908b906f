// Package runlog talks to the orchestration service over HTTP: it reads
// the session run log and submits new user turns. The run log itself is
// append-only and owned entirely by the orchestrator; recorded runs are
// never mutated from here.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// ErrUnavailable wraps transport-level failures: the orchestrator could
// not be reached at all. Callers treat this as a degraded read, not a
// hard error.
var ErrUnavailable = errors.New("runlog: orchestrator unavailable")

// Error is an HTTP-level error from the run-log API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("runlog: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404; an unknown session
// upstream means an empty run log, not a failure.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the orchestration service.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with Timeout is used.
	HTTPClient *http.Client

	// Timeout bounds each run-log request. Defaults to 10 seconds: a
	// slow orchestrator must not stall transcript reads indefinitely.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client fetches run logs from the orchestration service. Safe for
// concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("runlog: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
		logger:  logger,
	}, nil
}

// runsResponse is the wire envelope of the session-runs endpoint. Some
// orchestrator versions return the array bare, others wrap it.
type runsResponse struct {
	Runs []json.RawMessage `json:"runs"`
}

// FetchRuns retrieves every run recorded for the session. Individual
// malformed records are skipped with a warning rather than failing the
// fetch; a 404 yields an empty slice.
func (c *Client) FetchRuns(ctx context.Context, sessionID string) ([]model.RunRecord, error) {
	path := c.baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("runlog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	raws, err := decodeRunsEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("runlog: decode response: %w", err)
	}

	runs := make([]model.RunRecord, 0, len(raws))
	for i, raw := range raws {
		var run model.RunRecord
		if err := json.Unmarshal(raw, &run); err != nil {
			c.logger.Warn("runlog: skipping malformed run record",
				"session_id", sessionID, "index", i, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// maxResponseBytes caps how much of a run-log response is read. Long
// sessions stay well under this; anything larger is a misbehaving
// upstream.
const maxResponseBytes = 32 << 20

// decodeRunsEnvelope accepts both the wrapped {"runs": [...]} shape and
// a bare array.
func decodeRunsEnvelope(body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}
	var envelope runsResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Runs, nil
}

func errorMessage(body []byte) string {
	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &wire); err == nil {
		if wire.Error.Message != "" {
			return wire.Error.Message
		}
		if wire.Detail != "" {
			return wire.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
