// Package serve implements the "serve" sub-command: the MCP session layer
// and HTTP surface (§6).
package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/federated-memory/federated-memory/internal/config"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP session layer and HTTP surface",
		CustomHelpTemplate: cli.CommandHelpTemplate + `NOTES:
   API key authentication is configured via environment variables — one per user:
   FEDERATED_MEMORY_API_KEY_<USER_ID>=<key>
`,
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			cfg.APIKeys = config.LoadFromEnv().APIKeys
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "base-url",
			Category:    "Server:",
			Sources:     cli.EnvVars("BASE_URL"),
			Destination: &cfg.BaseURL,
			Value:       cfg.BaseURL,
			Usage:       "Externally reachable URL, used in WWW-Authenticate and OAuth discovery",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("LISTENER_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("LISTENER_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated CORS allowlist; empty disables CORS headers",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("LISTENER_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("LISTENER_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("MANAGEMENT_LISTENER_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for /health, /ready and /metrics; when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Network Listener: Management:",
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for the management server",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &cfg.DatabaseURL,
			Usage:       "Postgres connection URL; unset runs with in-process stores",
		},
		&cli.IntFlag{
			Name:        "db-pool-max",
			Category:    "Database:",
			Sources:     cli.EnvVars("DB_POOL_MAX"),
			Destination: &cfg.DBPoolMax,
			Value:       cfg.DBPoolMax,
			Usage:       "Maximum number of open database connections",
		},
		&cli.BoolFlag{
			Name:        "vector-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("VECTOR_MIGRATE_AT_START"),
			Destination: &cfg.VectorMigrateAtStart,
			Usage:       "Apply the pgvector extension before serving",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("VECTOR_TYPE"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "fanout-factor",
			Category:    "Vector Store:",
			Destination: &cfg.FanoutFactor,
			Value:       cfg.FanoutFactor,
			Usage:       "CMI search candidates requested per result returned (§4.5)",
		},
		&cli.Float64Flag{
			Name:        "importance-weight",
			Category:    "Vector Store:",
			Destination: &cfg.ImportanceWeight,
			Value:       cfg.ImportanceWeight,
			Usage:       "CMI rank-boost factor for importanceScore (§4.5)",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBED_TYPE"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_MODEL"),
			Destination: &cfg.EmbeddingModel,
			Value:       cfg.EmbeddingModel,
			Usage:       "Upstream embedding model identifier",
		},
		&cli.StringFlag{
			Name:        "embedding-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_BASE_URL"),
			Destination: &cfg.EmbeddingBaseURL,
			Usage:       "OpenAI-compatible endpoint base URL",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension-full",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSION_FULL"),
			Destination: &cfg.EmbeddingDimensionFull,
			Value:       cfg.EmbeddingDimensionFull,
			Usage:       "Full-tier vector width",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension-compressed",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSION_COMPRESSED"),
			Destination: &cfg.EmbeddingDimensionCompressed,
			Value:       cfg.EmbeddingDimensionCompressed,
			Usage:       "CMI compressed-tier vector width",
		},

		// ── Sessions ──────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "session-idle-timeout",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("SESSION_IDLE_TIMEOUT"),
			Destination: &cfg.SessionIdleTimeout,
			Value:       cfg.SessionIdleTimeout,
			Usage:       "Close an MCP session with no activity for this long",
		},
		&cli.DurationFlag{
			Name:        "tool-deadline",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("TOOL_DEADLINE"),
			Destination: &cfg.ToolDeadline,
			Value:       cfg.ToolDeadline,
			Usage:       "Bounds a single tool invocation",
		},
		&cli.DurationFlag{
			Name:        "drain-timeout",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Bounds graceful shutdown",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL; enables the session-bearer credential shape",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
