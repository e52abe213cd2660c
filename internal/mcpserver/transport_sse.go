package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/security"
)

// SSEHandler mounts the Token-in-URL + SSE transport (§4.6 "Token-in-URL and
// SSE"): the opaque token travels in the path, not a header, and resolves
// through ResolveURLToken rather than ResolveBearer. Private tool calls are
// gated the same way the Streamable transport gates them (§4.7 "Tool
// gating").
func (s *Server) SSEHandler(cfg *config.Config, resolver *security.Resolver, basePath string) http.Handler {
	sseServer := server.NewSSEServer(s.MCP,
		server.WithBasePath(basePath),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			uc, _ := resolveSSERequest(ctx, r, resolver, basePath)
			return security.WithUser(ctx, uc)
		}),
	)
	return s.authGateSSE(cfg, resolver, basePath, sseServer)
}

// authGateSSE mirrors authGate for the token-in-path transport: it resolves
// the caller from the path token instead of a bearer header, then answers
// -32001 before a tools/call for a private tool reaches mcp-go's dispatcher.
func (s *Server) authGateSSE(cfg *config.Config, resolver *security.Resolver, basePath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc, authErr := resolveSSERequest(r.Context(), r, resolver, basePath)

		if r.Method == http.MethodPost && r.Body != nil {
			body, err := io.ReadAll(r.Body)
			if err == nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				var rpc jsonRPCRequest
				if json.Unmarshal(body, &rpc) == nil && rpc.Method == "tools/call" && s.IsPrivate(rpc.Params.Name) && uc == nil {
					writeAuthRequired(w, cfg, rpc.Params.Name, authErr)
					return
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(security.WithUser(r.Context(), uc)))
	})
}

func resolveSSERequest(ctx context.Context, r *http.Request, resolver *security.Resolver, basePath string) (*security.UserContext, error) {
	token := tokenFromPath(r.URL.Path, basePath)
	if token == "" {
		return nil, nil
	}
	return resolver.ResolveURLToken(ctx, token)
}

// tokenFromPath extracts the opaque token segment from a URL of the shape
// "<basePath>/<token>/sse" or "<basePath>/<token>/message".
func tokenFromPath(path, basePath string) string {
	trimmed := strings.TrimPrefix(path, basePath)
	trimmed = strings.TrimPrefix(trimmed, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
