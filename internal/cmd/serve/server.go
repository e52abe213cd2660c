package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/federated-memory/federated-memory/internal/cmi"
	"github.com/federated-memory/federated-memory/internal/config"
	"github.com/federated-memory/federated-memory/internal/embedcache"
	"github.com/federated-memory/federated-memory/internal/mcpserver"
	"github.com/federated-memory/federated-memory/internal/module"
	"github.com/federated-memory/federated-memory/internal/module/catalog"
	registryembed "github.com/federated-memory/federated-memory/internal/registry/embed"
	registrymigrate "github.com/federated-memory/federated-memory/internal/registry/migrate"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
	"github.com/federated-memory/federated-memory/internal/relationship"
	"github.com/federated-memory/federated-memory/internal/security"
	"github.com/federated-memory/federated-memory/internal/service"
	"github.com/federated-memory/federated-memory/internal/tools"
	"github.com/federated-memory/federated-memory/internal/userstore"

	// Import all plugins to trigger init() registration.
	_ "github.com/federated-memory/federated-memory/internal/plugin/embed/local"
	_ "github.com/federated-memory/federated-memory/internal/plugin/embed/openai"
	_ "github.com/federated-memory/federated-memory/internal/plugin/vector/memvector"
	_ "github.com/federated-memory/federated-memory/internal/plugin/vector/pgvector"
)

const embedCacheMaxCost = 64 << 20 // 64MiB of cached vectors

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the HTTP listener(s) and management server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes every subsystem — vector store, embedder, module
// registry, CMI, MCP session layer — and starts HTTP serving on a single
// port (plus an optional dedicated management port).
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting federated memory service",
		"httpPort", cfg.Listener.Port,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
	)

	security.InitMetrics(nil)

	if cfg.VectorMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	vectorLoader, err := registryvector.Select(cfg.VectorType)
	if err != nil {
		return nil, err
	}
	vectorStore, err := vectorLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store %q: %w", cfg.VectorType, err)
	}

	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder %q: %w", cfg.EmbedType, err)
	}
	cachedEmbedder, err := embedcache.New(embedder, embedCacheMaxCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	modules, err := module.Build(ctx, catalog.Descriptors(cfg.EmbeddingDimensionFull), catalog.DefaultModuleID, vectorStore, cachedEmbedder)
	if err != nil {
		return nil, fmt.Errorf("failed to build module registry: %w", err)
	}

	cmiSvc, err := cmi.New(ctx, modules, vectorStore, cachedEmbedder, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize CMI: %w", err)
	}

	users, rel, err := openUserAndRelationshipStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolver := security.NewResolver(ctx, cfg, users)

	defs := tools.Catalog(cmiSvc, modules, rel)
	mcp := mcpserver.New(defs, cfg.SessionIdleTimeout, cfg.ToolDeadline)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())
	if cfg.CORSOrigins != "" {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	mcpserver.RegisterWellKnown(router, cfg)
	router.Any("/mcp", gin.WrapH(mcp.StreamableHandler(cfg, resolver)))
	router.Any("/mcp/*any", gin.WrapH(mcp.StreamableHandler(cfg, resolver)))
	router.Any("/sse/*any", gin.WrapH(mcp.SSEHandler(cfg, resolver, "/sse")))

	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		mountManagementRoutes(mgmtRouter)
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		mountManagementRoutes(router)
	}

	sweep := service.NewIntegritySweepService(users, cmiSvc, 5*time.Minute)
	go sweep.Start(ctx)
	go mcp.Sessions.SweepIdle(ctx, cfg.SessionIdleTimeout)

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	return &Server{
		Config:          cfg,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}

func mountManagementRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) { c.Status(200) })
	r.GET("/ready", func(c *gin.Context) { c.Status(200) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// openUserAndRelationshipStores selects Postgres-backed stores when a
// database is configured, falling back to the in-process stores for
// local/dev deployments (cfg.DatabaseURL empty).
func openUserAndRelationshipStores(ctx context.Context, cfg *config.Config) (userstore.Store, relationship.Store, error) {
	if cfg.DatabaseURL == "" {
		return userstore.NewMemory(), relationship.NewMemory(), nil
	}

	users, err := userstore.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize user store: %w", err)
	}
	if err := users.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure user schema: %w", err)
	}

	rel, err := relationship.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize relationship store: %w", err)
	}
	if err := rel.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure relationship schema: %w", err)
	}

	return users, rel, nil
}
