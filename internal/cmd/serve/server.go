package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/consolidation"
	"github.com/chirino/spacechat/internal/conversation"
	grpcserver "github.com/chirino/spacechat/internal/grpc"
	"github.com/chirino/spacechat/internal/plugin/route/admin"
	"github.com/chirino/spacechat/internal/plugin/route/spaces"
	routesystem "github.com/chirino/spacechat/internal/plugin/route/system"
	storemetrics "github.com/chirino/spacechat/internal/plugin/store/metrics"
	registrycache "github.com/chirino/spacechat/internal/registry/cache"
	registrymigrate "github.com/chirino/spacechat/internal/registry/migrate"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	registryroute "github.com/chirino/spacechat/internal/registry/route"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/chirino/spacechat/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.SpaceStore
	Conversations   *conversation.Service
	Consolidation   *service.ConsolidationService
	Router          *gin.Engine
	GRPCServer      *grpcserver.Server
	Running         *RunningServers
	sink            registrynotify.Sink
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.GRPCServer.Drain()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	s.Conversations.Close()
	if s.sink != nil {
		if cerr := s.sink.Close(); cerr != nil {
			log.Warn("Failed to close notify sink", "err", cerr)
		}
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP and gRPC health on
// a single port. Use cfg.Listener.Port=0 for a random port; the actual port
// is Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting spacechat",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"notify", cfg.NotifyType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// The unread cache and the notify sink are optional: a missing backend
	// degrades to uncached counts and undelivered events.
	var unreadCache registrycache.UnreadCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if unreadCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		unreadCache = nil
	}
	var sink registrynotify.Sink
	if sinkLoader, err := registrynotify.Select(cfg.NotifyType); err != nil {
		log.Warn("Notify sink not available", "notify", cfg.NotifyType, "err", err)
	} else if sink, err = sinkLoader(ctx); err != nil {
		log.Warn("Failed to initialize notify sink", "notify", cfg.NotifyType, "err", err)
		sink = nil
	}

	conversations, err := conversation.New(store, sink, unreadCache, conversation.Options{
		UserCacheSize: cfg.UserCacheSize,
		UnreadTTL:     cfg.CacheUnreadTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversations: %w", err)
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware(cfg.AdminRequireJustification))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	runner := consolidation.NewRunner(store, consolidation.Options{
		BatchSize:   cfg.ConsolidationBatchSize,
		OrphanGrace: cfg.OrphanChatGrace,
		Invalidate:  conversations.Unread().Invalidate,
	})
	consolidator := service.NewConsolidationService(runner, cfg.ConsolidationInterval)

	spaces.MountRoutes(router, conversations, auth)
	admin.MountRoutes(router, store, runner, consolidator, cfg, auth)

	// Start background services
	go consolidator.Start(ctx)

	taskProc := service.NewTaskProcessor(store, runner, cfg.TaskInterval)
	go taskProc.Start(ctx)

	grpcServer := grpcserver.NewServer()

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	running, err := StartSinglePortHTTPAndGRPC(ctx, cfg.Listener, router, grpcServer.Server)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady(store.Ping)
	grpcServer.MarkServing()
	return &Server{
		Config:          cfg,
		Store:           store,
		Conversations:   conversations,
		Consolidation:   consolidator,
		Router:          router,
		GRPCServer:      grpcServer,
		Running:         running,
		sink:            sink,
		closeManagement: closeManagement,
	}, nil
}
