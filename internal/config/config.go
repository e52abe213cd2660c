// Package config holds process-wide configuration for the federated memory
// service, populated from environment variables.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// ListenerConfig holds the network settings for a listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
}

// Config holds all configuration for the federated memory service.
type Config struct {
	// BaseURL is this service's externally reachable URL, embedded in
	// WWW-Authenticate headers and the oauth-protected-resource document.
	BaseURL string

	// DatabaseURL is the Postgres DSN backing the pgvector store.
	DatabaseURL string

	// EmbedType selects the embed.Embedder plugin: "openai" or "local".
	EmbedType string

	// OpenAIAPIKey authenticates against the embedding provider.
	OpenAIAPIKey string

	// EmbeddingModel is the upstream model identifier.
	EmbeddingModel string

	// EmbeddingBaseURL allows pointing at an OpenAI-compatible endpoint.
	EmbeddingBaseURL string

	// EmbeddingDimensionFull is the full-tier vector width (default 1536).
	EmbeddingDimensionFull int

	// EmbeddingDimensionCompressed is the compressed-tier vector width (default 512).
	EmbeddingDimensionCompressed int

	// VectorType selects the vector.Store plugin: "pgvector" or "memory".
	VectorType string

	// VectorMigrateAtStart runs the embedded pgvector schema on startup.
	VectorMigrateAtStart bool

	// SessionIdleTimeout closes an MCP session with no activity for this long.
	SessionIdleTimeout time.Duration

	// ToolDeadline bounds a single tool invocation.
	ToolDeadline time.Duration

	// DBPoolMax bounds the number of open Postgres connections.
	DBPoolMax int

	// ImportanceWeight is the CMI rank-boost factor from §4.5 (default 0.2).
	ImportanceWeight float64

	// FanoutFactor controls how many CMI candidates are requested relative to
	// the caller's limit (§4.5 step 2): candidates = limit * FanoutFactor.
	FanoutFactor int

	// Listener is the main HTTP listener (MCP transports + well-known endpoints).
	Listener ListenerConfig

	// ManagementListener serves health/metrics, multiplexed via cmux.
	ManagementListener ListenerConfig

	// ManagementListenerEnabled runs management endpoints on a dedicated port
	// instead of the main listener.
	ManagementListenerEnabled bool

	// OIDCIssuer, when set, enables session-bearer token validation (§6
	// "session bearer") via go-oidc.
	OIDCIssuer string

	// APIKeys maps an opaque API key to the userId it authenticates (§6
	// "API key"). Populated from FEDERATED_MEMORY_API_KEY_<USER_ID> env vars.
	APIKeys map[string]string

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration

	// Mode holds ModeProd or ModeTesting; no code path currently branches on it.
	Mode string

	// CORSOrigins is a comma-separated allowlist for the main listener's CORS
	// middleware. Empty disables CORS headers entirely.
	CORSOrigins string
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// DefaultConfig returns a Config with the documented defaults, used as the
// base for both production env-loading and test fixtures.
func DefaultConfig() Config {
	return Config{
		BaseURL:                      "http://localhost:8080",
		EmbedType:                    "local",
		EmbeddingModel:               "text-embedding-3-small",
		EmbeddingDimensionFull:       1536,
		EmbeddingDimensionCompressed: 512,
		VectorType:                   "memory",
		SessionIdleTimeout:           10 * time.Minute,
		ToolDeadline:                 30 * time.Second,
		DBPoolMax:                    10,
		ImportanceWeight:             0.2,
		FanoutFactor:                 4,
		Listener:                     ListenerConfig{Port: 8080, ReadHeaderTimeout: 5 * time.Second, EnablePlainText: true},
		ManagementListener:          ListenerConfig{Port: 8081, ReadHeaderTimeout: 5 * time.Second, EnablePlainText: true},
		DrainTimeout:                 10 * time.Second,
		APIKeys:                      map[string]string{},
		Mode:                         ModeProd,
	}
}

// LoadFromEnv populates a Config from the recognized environment variables
// (§6), falling back to DefaultConfig's values when unset.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	applyStringEnv("BASE_URL", &cfg.BaseURL)
	applyStringEnv("DATABASE_URL", &cfg.DatabaseURL)
	applyStringEnv("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	applyStringEnv("EMBEDDING_MODEL", &cfg.EmbeddingModel)
	applyStringEnv("EMBEDDING_BASE_URL", &cfg.EmbeddingBaseURL)
	_ = applyIntEnv("EMBEDDING_DIMENSION_FULL", &cfg.EmbeddingDimensionFull)
	_ = applyIntEnv("EMBEDDING_DIMENSION_COMPRESSED", &cfg.EmbeddingDimensionCompressed)
	_ = applyDurationEnv("SESSION_IDLE_TIMEOUT", &cfg.SessionIdleTimeout)
	_ = applyDurationEnv("TOOL_DEADLINE", &cfg.ToolDeadline)
	_ = applyIntEnv("DB_POOL_MAX", &cfg.DBPoolMax)
	applyStringEnv("EMBED_TYPE", &cfg.EmbedType)
	applyStringEnv("VECTOR_TYPE", &cfg.VectorType)
	_ = applyBoolEnv("VECTOR_MIGRATE_AT_START", &cfg.VectorMigrateAtStart)
	_ = applyIntEnv("LISTENER_PORT", &cfg.Listener.Port)
	_ = applyIntEnv("MANAGEMENT_LISTENER_PORT", &cfg.ManagementListener.Port)
	_ = applyBoolEnv("MANAGEMENT_LISTENER_ENABLED", &cfg.ManagementListenerEnabled)
	applyStringEnv("LISTENER_TLS_CERT_FILE", &cfg.Listener.TLSCertFile)
	applyStringEnv("LISTENER_TLS_KEY_FILE", &cfg.Listener.TLSKeyFile)
	_ = applyBoolEnv("LISTENER_TLS", &cfg.Listener.EnableTLS)
	applyStringEnv("OIDC_ISSUER", &cfg.OIDCIssuer)
	applyStringEnv("CORS_ORIGINS", &cfg.CORSOrigins)
	_ = applyDurationEnv("DRAIN_TIMEOUT", &cfg.DrainTimeout)
	cfg.APIKeys = loadAPIKeysFromEnv()

	if cfg.DatabaseURL != "" && cfg.VectorType == "" {
		cfg.VectorType = "pgvector"
	}
	if cfg.OpenAIAPIKey != "" && cfg.EmbedType == "" {
		cfg.EmbedType = "openai"
	}

	return cfg
}

// loadAPIKeysFromEnv reads FEDERATED_MEMORY_API_KEY_<USER_ID>=<key> pairs
// into a key->userId lookup for the API-key credential shape (§6).
func loadAPIKeysFromEnv() map[string]string {
	const prefix = "FEDERATED_MEMORY_API_KEY_"
	keys := map[string]string{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		userID := strings.ToLower(strings.TrimPrefix(name, prefix))
		if value = strings.TrimSpace(value); value != "" {
			keys[value] = userID
		}
	}
	return keys
}

func applyStringEnv(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func applyIntEnv(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func applyBoolEnv(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func applyDurationEnv(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
