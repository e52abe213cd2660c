package mcpserver

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/federated-memory/federated-memory/internal/security"
	"github.com/federated-memory/federated-memory/internal/tools"
)

// serverName/serverVersion are the MCP server identity returned by
// initialize (§6 "server identity {name: \"federated-memory\", version:
// \"1.0.0\"}").
const (
	serverName    = "federated-memory"
	serverVersion = "1.0.0"
)

// Server wraps the mcp-go MCPServer plus the session bookkeeping this
// package layers on top of it.
type Server struct {
	MCP        *server.MCPServer
	Sessions   *SessionManager
	privateSet map[string]bool
}

// New builds the MCP server and registers every tool in defs. Capabilities
// are {tools:true, prompts:true, resources:false, sampling:false} (§6).
func New(defs []tools.Definition, idleTimeout, toolDeadline time.Duration) *Server {
	sessions := NewSessionManager(idleTimeout)

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		log.Debug("mcpserver: tool call", "tool", req.Params.Name)
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		log.Error("mcpserver: request failed", "method", method, "err", err)
	})
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		sessions.Open(cs.SessionID(), security.UserFromContext(ctx))
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		sessions.Close(cs.SessionID())
	})

	mcpServer := server.NewMCPServer(
		serverName, serverVersion,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithHooks(hooks),
	)

	s := &Server{MCP: mcpServer, Sessions: sessions, privateSet: tools.PrivateNames(defs)}

	for _, def := range defs {
		deadlined := withSessionCancel(withToolDeadline(def.Handler, toolDeadline), sessions)
		mcpServer.AddTool(def.Tool, deadlined)
	}

	registerPrompts(mcpServer)

	return s
}

// IsPrivate reports whether tool requires an authenticated caller (§4.7
// "Tool gating").
func (s *Server) IsPrivate(tool string) bool {
	return s.privateSet[tool]
}

// withToolDeadline hands the tool handler a context that expires after
// deadline (§4.7 TOOL_DEADLINE); how an expired context is reported is up to
// the handler and the calls it makes.
func withToolDeadline(handler server.ToolHandlerFunc, deadline time.Duration) server.ToolHandlerFunc {
	if deadline <= 0 {
		return handler
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		return handler(ctx, req)
	}
}

// withSessionCancel ties the handler's context to its owning session, so a
// session Close cooperatively cancels any tool invocation still in flight
// (§4.7 "Closed cancels in-flight invocation") and bumps the session's
// last-activity clock on every call.
func withSessionCancel(handler server.ToolHandlerFunc, sessions *SessionManager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if cs := server.ClientSessionFromContext(ctx); cs != nil {
			sessions.Touch(cs.SessionID())
			if sessionCtx, ok := sessions.Context(cs.SessionID()); ok {
				done := make(chan struct{})
				merged, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					select {
					case <-sessionCtx.Done():
						cancel()
					case <-done:
					}
				}()
				defer close(done)
				ctx = merged
			}
		}
		return handler(ctx, req)
	}
}
