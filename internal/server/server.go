// Package server exposes the transcript engine over HTTP: session CRUD,
// the reconciled transcript read, the send path, exports, share links,
// and feedback, plus the MCP transport.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsumugi/internal/auth"
	"github.com/ashita-ai/tsumugi/internal/mcp"
	"github.com/ashita-ai/tsumugi/internal/ratelimit"
)

// ServerConfig holds the settings for constructing a Server.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Handlers   *Handlers
	JWTManager *auth.JWTManager

	// Limiter throttles transcript reads and sends per user. Nil
	// disables rate limiting.
	Limiter ratelimit.Limiter

	// MCP is the optional MCP server mounted at /mcp.
	MCP *mcp.Server

	Logger *slog.Logger
}

// Server is the HTTP server for the transcript API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired.
func New(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Handlers

	limited := ratelimit.Middleware(cfg.Limiter, userKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})
	ipLimited := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /v1/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /v1/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.HandleGetSession)
	mux.HandleFunc("PATCH /v1/sessions/{session_id}", h.HandleUpdateSession)

	mux.Handle("GET /v1/sessions/{session_id}/messages", limited(http.HandlerFunc(h.HandleGetTranscript)))
	mux.Handle("POST /v1/sessions/{session_id}/messages", limited(http.HandlerFunc(h.HandleSendMessage)))
	mux.Handle("GET /v1/sessions/{session_id}/export", limited(http.HandlerFunc(h.HandleExportTranscript)))

	mux.HandleFunc("POST /v1/sessions/{session_id}/shares", h.HandleCreateShare)
	mux.HandleFunc("DELETE /v1/shares/{share_id}", h.HandleDeleteShare)
	mux.Handle("GET /v1/shared/{share_id}", ipLimited(http.HandlerFunc(h.HandleResolveShare)))

	mux.HandleFunc("PUT /v1/messages/{message_id}/feedback", h.HandlePutFeedback)
	mux.HandleFunc("DELETE /v1/messages/{message_id}/feedback", h.HandleDeleteFeedback)

	if cfg.MCP != nil {
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCP.MCPServer())
		mux.Handle("/mcp", streamable)
	}

	// Outermost first: every request gets an id before anything else
	// can log or fail; recovery sits closest to the handlers.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger)(handler)
	handler = authMiddleware(cfg.JWTManager)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		logger: logger,
	}
}

// userKeyFunc buckets authenticated requests per user; requests that
// somehow reach a limited route without claims fall back to no key,
// which the rate limiter treats as unlimited.
func userKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "user:" + claims.Subject
	}
	return ""
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
