// Package security resolves caller credentials into a UserContext (C6) and
// provides the HTTP access-log/metrics middleware the serve command mounts.
package security

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/userstore"
)

// UserContext is the resolved caller identity a private tool handler acts
// on behalf of.
type UserContext struct {
	UserID      string
	Email       string
	DisplayName string
}

// urlTokenRE matches the shape of an opaque URL token (§6 "token-in-URL").
var urlTokenRE = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)

var errUnauthenticated = errors.New("unauthenticated")

// Resolver resolves the three credential shapes from §6 into a UserContext.
// One instance is shared by the Streamable HTTP and Token-in-URL+SSE
// transports.
type Resolver struct {
	verifier *oidc.IDTokenVerifier
	apiKeys  map[string]string
	users    userstore.Store
}

// NewResolver builds a Resolver from config. OIDC provider discovery runs
// once if cfg.OIDCIssuer is set; session-bearer auth is unavailable
// otherwise, and only API keys / URL tokens resolve.
func NewResolver(ctx context.Context, cfg *config.Config, users userstore.Store) *Resolver {
	var verifier *oidc.IDTokenVerifier
	if cfg.OIDCIssuer != "" {
		provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Error("OIDC provider discovery failed; session-bearer auth disabled", "issuer", cfg.OIDCIssuer, "err", err)
		} else {
			verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			log.Info("OIDC session-bearer auth enabled", "issuer", cfg.OIDCIssuer)
		}
	}
	return &Resolver{verifier: verifier, apiKeys: cfg.APIKeys, users: users}
}

// ResolveBearer resolves the Authorization: Bearer value used by the
// Streamable HTTP transport. It is either a session-bearer JWT (verified via
// OIDC) or a plain API key (looked up in cfg.APIKeys).
func (r *Resolver) ResolveBearer(ctx context.Context, token string) (*UserContext, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errUnauthenticated
	}
	if r.verifier != nil && strings.Count(token, ".") >= 2 {
		return r.resolveSessionBearer(ctx, token)
	}
	userID, ok := r.apiKeys[token]
	if !ok {
		return nil, errUnauthenticated
	}
	return r.userContext(ctx, userID)
}

// ResolveURLToken resolves the opaque token carried in the Token-in-URL+SSE
// transport's path (§6 "token-in-URL"). The token must match urlTokenRE and
// a user with that OpaqueToken.
func (r *Resolver) ResolveURLToken(ctx context.Context, token string) (*UserContext, error) {
	if !urlTokenRE.MatchString(token) {
		return nil, errUnauthenticated
	}
	user, err := r.users.GetByOpaqueToken(ctx, token)
	if err != nil || !user.IsActive {
		return nil, errUnauthenticated
	}
	return &UserContext{UserID: user.UserID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

func (r *Resolver) resolveSessionBearer(ctx context.Context, token string) (*UserContext, error) {
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, errors.Join(errUnauthenticated, err)
	}
	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Sub == "" {
		return nil, errUnauthenticated
	}
	return r.userContext(ctx, claims.Sub)
}

func (r *Resolver) userContext(ctx context.Context, userID string) (*UserContext, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		// A known API key or verified session-bearer subject with no user
		// row yet is still a valid caller identity; display fields are empty.
		return &UserContext{UserID: userID}, nil
	}
	if !user.IsActive {
		return nil, errUnauthenticated
	}
	return &UserContext{UserID: user.UserID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

// RequireAuthenticated maps a missing/invalid UserContext to the typed
// AuthenticationRequired error a tool handler returns (§7).
func RequireAuthenticated(uc *UserContext, tool string) (*UserContext, error) {
	if uc == nil {
		return nil, &ferrors.AuthenticationRequiredError{Tool: tool}
	}
	return uc, nil
}
