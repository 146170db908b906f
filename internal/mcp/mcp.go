// Package mcp exposes the transcript engine over the Model Context
// Protocol, so MCP-compatible agents can read the same reconciled
// transcripts the chat UI sees.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/reconcile"
)

// Store is the session lookup the MCP tools need.
type Store interface {
	ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]model.Session, error)
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (model.Session, error)
}

// Reconciler produces merged transcripts.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (*reconcile.Transcript, error)
}

// UserResolver extracts the authenticated user from a tool call
// context. The HTTP transport's auth middleware put it there.
type UserResolver func(ctx context.Context) (uuid.UUID, bool)

// Server wraps the MCP server around the reconciliation service.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	store      Store
	reconciler Reconciler
	user       UserResolver
	logger     *slog.Logger
}

// New creates and configures an MCP server with the transcript tools.
func New(store Store, reconciler Reconciler, user UserResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:      store,
		reconciler: reconciler,
		user:       user,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tsumugi",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("list_sessions",
			mcplib.WithDescription("List the caller's chat sessions, most recently active first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of sessions to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListSessions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_transcript",
			mcplib.WithDescription(`Read the reconciled transcript of a chat session.

The transcript merges the orchestrator's run log with the local message
ledger: deduplicated, chronologically ordered, and paginated from the
newest message backwards. Pass before_message_id from a previous page to
go further back in time.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("session_id",
				mcplib.Description("Session identifier (UUID)"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of messages to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(50),
			),
			mcplib.WithString("before_message_id",
				mcplib.Description("Return only messages older than this message id"),
			),
			mcplib.WithBoolean("include_system",
				mcplib.Description("Include system messages in the transcript"),
			),
		),
		s.handleGetTranscript,
	)
}

func (s *Server) handleListSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, ok := s.user(ctx)
	if !ok {
		return errorResult("not authenticated"), nil
	}

	limit := request.GetInt("limit", 20)
	sessions, err := s.store.ListSessions(ctx, userID, limit)
	if err != nil {
		s.logger.Error("mcp: list sessions", "error", err)
		return errorResult(fmt.Sprintf("list sessions failed: %v", err)), nil
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	return jsonResult(map[string]any{"sessions": sessions})
}

func (s *Server) handleGetTranscript(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, ok := s.user(ctx)
	if !ok {
		return errorResult("not authenticated"), nil
	}

	rawID := request.GetString("session_id", "")
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return errorResult("session_id must be a UUID"), nil
	}

	sess, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return errorResult("session not found"), nil
	}

	limit := request.GetInt("limit", 50)
	if limit > model.MaxTranscriptLimit {
		limit = model.MaxTranscriptLimit
	}

	transcript, err := s.reconciler.Reconcile(ctx, reconcile.Request{
		SessionID:       sess.ID,
		RunLogSessionID: sess.PublicID.String(),
		UserID:          userID,
		Limit:           limit,
		BeforeMessageID: request.GetString("before_message_id", ""),
		IncludeSystem:   request.GetBool("include_system", false),
	})
	if err != nil {
		s.logger.Error("mcp: reconcile transcript", "session_id", sess.ID, "error", err)
		return errorResult(fmt.Sprintf("transcript read failed: %v", err)), nil
	}

	messages := transcript.Messages
	if messages == nil {
		messages = []model.CanonicalMessage{}
	}
	return jsonResult(map[string]any{
		"session_id": sess.ID.String(),
		"messages":   messages,
		"has_more":   transcript.HasMore,
		"degraded":   transcript.Degraded,
	})
}

func jsonResult(data any) (*mcplib.CallToolResult, error) {
	encoded, _ := json.MarshalIndent(data, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(encoded)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
