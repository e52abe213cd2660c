package mcpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/federated-memory/federated-memory/internal/config"
)

// RegisterWellKnown mounts the OAuth protected-resource metadata document
// and the SSE discovery hint (§6 "well-known endpoints"). Token-in-URL
// sessions never advertise OAuth discovery, so mount these only on the
// bearer-token (Streamable HTTP) listener.
func RegisterWellKnown(r gin.IRouter, cfg *config.Config) {
	r.GET("/.well-known/oauth-protected-resource", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"resource":              cfg.BaseURL,
			"authorization_servers": oidcIssuers(cfg),
			"bearer_methods_supported": []string{"header"},
		})
	})

	r.GET("/sse/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    serverName,
			"version": serverVersion,
			"auth": gin.H{
				"tokenInUrl": true,
				"oauth":      cfg.OIDCIssuer != "",
			},
		})
	})
}

func oidcIssuers(cfg *config.Config) []string {
	if cfg.OIDCIssuer == "" {
		return nil
	}
	return []string{cfg.OIDCIssuer}
}
