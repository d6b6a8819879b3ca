// Package mcp exposes the relay's status store over the Model Context
// Protocol, so agents can read a study session's live attention status
// the same way GET /status does.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cramsino/cramsino/internal/presence"
)

// Server wraps the MCP server around a status store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     presence.Store
	logger    *slog.Logger
}

// New creates an MCP server with the read-only status tool registered.
func New(store presence.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:  store,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"cramsino",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("cramsino_status",
			mcplib.WithDescription(`Read the latest attention status published for a study session.

Returns the status record as stored by the relay: client_id, the status
object (face_present, looking_forward, talking, distracted) and updated_at.
The record may be stale; compare updated_at against the current time.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("client_id",
				mcplib.Description("The session identifier the monitoring client publishes under"),
				mcplib.Required(),
			),
		),
		s.handleStatus,
	)

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	clientID := request.GetString("client_id", "")
	if strings.TrimSpace(clientID) == "" {
		return errorResult("client_id is required"), nil
	}

	rec, err := s.store.Get(ctx, clientID)
	if errors.Is(err, presence.ErrNotFound) {
		return errorResult("no status for client_id"), nil
	}
	if err != nil {
		s.logger.Error("mcp: status lookup failed", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("mcp: status: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
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
