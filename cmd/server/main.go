package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"go.pilab.hu/toolgate"
	apiecho "go.pilab.hu/toolgate/api/echo"
	"go.pilab.hu/toolgate/cache"
	redisstore "go.pilab.hu/toolgate/cache/redis"
	"go.pilab.hu/toolgate/catalog"
	"go.pilab.hu/toolgate/config"
	"go.pilab.hu/toolgate/internal/audit"
	"go.pilab.hu/toolgate/internal/crypto"
	"go.pilab.hu/toolgate/internal/metrics"
	"go.pilab.hu/toolgate/internal/server"
	"go.pilab.hu/toolgate/launch"
	"go.pilab.hu/toolgate/log"
	"go.pilab.hu/toolgate/middleware"
	"go.pilab.hu/toolgate/mongodb"
	"go.pilab.hu/toolgate/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig(os.Getenv("TOOLGATE_CONFIG"))
	if err != nil {
		stdLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger, err := log.New(log.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		stdLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server gracefully stopped")
}

// components holds everything main has to release on shutdown.
type components struct {
	db       *mongo.Database
	store    toolgate.GrantStore
	catalog  *cache.ToolCatalogCache
	recorder *audit.AsyncRecorder
}

func (c *components) close(ctx context.Context, logger zerolog.Logger) {
	if c.recorder != nil {
		if err := c.recorder.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("Activity queue not fully drained")
		}
	}
	if c.catalog != nil {
		_ = c.catalog.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Grant store close error")
		}
	}
	mongodb.Close(ctx, c.db)
}

func run(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) error {
	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("grant_store", cfg.GrantStore).
		Str("catalog_backend", cfg.CatalogBackend).
		Dur("grant_ttl", cfg.GrantTTL).
		Msg("Starting toolgate server")

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider(ctx, cfg.OtelServiceName, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize TracerProvider: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("TracerProvider shutdown error")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var sealer *crypto.Sealer
	if cfg.CredentialKey != "" {
		s, err := crypto.NewSealer([]byte(cfg.CredentialKey))
		if err != nil {
			return fmt.Errorf("failed to initialize credential sealer: %w", err)
		}
		sealer = s
	}

	comps := &components{}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		comps.close(closeCtx, logger)
	}()

	if cfg.CatalogBackend == config.CatalogMongo {
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return err
		}
		comps.db = db
	}

	var (
		toolCatalog toolgate.ToolCatalog
		permissions toolgate.PermissionChecker
		recorder    toolgate.ActivityRecorder
	)
	switch cfg.CatalogBackend {
	case config.CatalogMongo:
		toolCatalog = mongodb.NewToolCatalog(comps.db, sealer)
		permissions = mongodb.NewUserPermissions(comps.db)
		recorder = mongodb.NewActivityLog(comps.db)
	default:
		static, err := catalog.LoadStatic(cfg.CatalogFile, sealer)
		if err != nil {
			return err
		}
		logger.Info().Int("tools", static.Len()).Str("file", cfg.CatalogFile).Msg("Static catalog loaded")
		toolCatalog = static
		permissions = static
		recorder = audit.NewLogRecorder(os.Stdout)
	}

	comps.catalog = cache.NewToolCatalogCache(toolCatalog, cfg.CatalogCacheTTL)
	comps.recorder = audit.NewAsyncRecorder(recorder, audit.DefaultQueueSize, m)

	switch cfg.GrantStore {
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		comps.store = redisstore.NewGrantStore(client, cfg.RedisPrefix, redisstore.WithSealer(sealer))
	default:
		comps.store = cache.NewMemoryGrantStore(cfg.StoreShards)
	}

	svc, err := toolgate.NewAccessService(toolgate.AccessServiceOptions{
		Store:         comps.store,
		Catalog:       comps.catalog,
		Permissions:   permissions,
		Activity:      comps.recorder,
		Metrics:       m,
		LaunchBaseURL: cfg.LaunchBaseURL(),
		TTL:           cfg.GrantTTL,
	})
	if err != nil {
		return err
	}

	renderer, err := launch.NewRenderer(launch.Options{
		ReturnURL:       cfg.ReturnURL,
		BlockInspection: cfg.BlockInspection,
	})
	if err != nil {
		return err
	}

	verifier, err := middleware.NewTokenVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	e := apiecho.New(apiecho.NewAccessAPI(apiecho.Options{
		Service:     svc,
		Renderer:    renderer,
		Verifier:    verifier,
		Gatherer:    reg,
		RoutePrefix: cfg.RoutePrefix,
	}), logger)

	httpServer := server.NewHTTPServer(cfg, e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, httpServer, shutdownTimeout)
	})
	g.Go(func() error {
		return svc.RunJanitor(gctx, cfg.SweepInterval)
	})

	return g.Wait()
}
