package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/service"
)

// MCPServer exposes one user's API keys as MCP tools so an agent can list,
// create, rename, regenerate and delete them.
type MCPServer struct {
	keys      *service.KeyService
	principal *model.Principal
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewMCPServer creates an MCPServer acting as principal. Every tool call is
// scoped to that user's keys.
func NewMCPServer(keys *service.KeyService, principal *model.Principal, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		keys:      keys,
		principal: principal,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"keyhub",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "user_id", s.principal.UserID)
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr until ctx is
// cancelled.
func (s *MCPServer) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP HTTP server starting", "addr", addr, "user_id", s.principal.UserID)
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("MCP HTTP server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
