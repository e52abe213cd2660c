package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/security"
)

// jsonRPCRequest is the subset of a JSON-RPC envelope the gate needs to
// decide whether dispatch requires authentication (§4.7 "tool dispatch").
type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// StreamableHandler mounts the Streamable HTTP transport (§4.6 "Streamable
// HTTP"), gating private tool calls before they reach mcp-go's dispatcher.
func (s *Server) StreamableHandler(cfg *config.Config, resolver *security.Resolver) http.Handler {
	inner := server.NewStreamableHTTPServer(s.MCP,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			uc, _ := resolveRequest(ctx, r, resolver)
			return security.WithUser(ctx, uc)
		}),
	)
	return s.authGate(cfg, resolver, inner)
}

// authGate peeks the JSON-RPC body of a tools/call request and answers
// -32001 with WWW-Authenticate before the request reaches mcp-go's
// dispatcher, when the named tool is private and the caller is
// unauthenticated (§4.7 "private tool without UserContext").
func (s *Server) authGate(cfg *config.Config, resolver *security.Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc, authErr := resolveRequest(r.Context(), r, resolver)

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

func resolveRequest(ctx context.Context, r *http.Request, resolver *security.Resolver) (*security.UserContext, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return nil, nil
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return nil, nil
	}
	return resolver.ResolveBearer(ctx, strings.TrimPrefix(auth, prefix))
}

func writeAuthRequired(w http.ResponseWriter, cfg *config.Config, tool string, cause error) {
	realm := cfg.BaseURL
	resourceMetadata := cfg.BaseURL + "/.well-known/oauth-protected-resource"
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, resource_metadata=%q`, realm, resourceMetadata))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	message := "authentication required for tool " + tool
	if cause != nil {
		message = cause.Error()
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    -32001,
			"message": message,
			"data": map[string]interface{}{
				"kind": "AuthenticationRequired",
			},
		},
	})
}
