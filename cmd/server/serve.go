package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Proximyst/ban/internal/enforcement"
	jwttoken "github.com/Proximyst/ban/internal/jwt_token"
	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/notify/kafka"
	"github.com/Proximyst/ban/internal/platform/config"
	"github.com/Proximyst/ban/internal/platform/database"
	"github.com/Proximyst/ban/internal/platform/httpserver"
	"github.com/Proximyst/ban/internal/platform/logger"
	platformmetrics "github.com/Proximyst/ban/internal/platform/metrics"
	platformredis "github.com/Proximyst/ban/internal/platform/redis"
	"github.com/Proximyst/ban/internal/platform/tracing"
	"github.com/Proximyst/ban/internal/punishment/cache"
	"github.com/Proximyst/ban/internal/punishment/handler"
	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/ports"
	"github.com/Proximyst/ban/internal/punishment/service"
	"github.com/Proximyst/ban/internal/punishment/store"
	redisstore "github.com/Proximyst/ban/internal/punishment/store/redis"
	httptransport "github.com/Proximyst/ban/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply pending migrations and serve the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// engineStore is what the cache loads from and the service writes to: the
// SQL store, optionally behind the shared Redis layer.
type engineStore interface {
	ports.Store
	cache.Loader
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.Log)
	logStartup(log, cfg)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	pm := platformmetrics.New()
	m := metrics.New(pm.Registry)
	health := httptransport.NewHealth(log, 2*time.Second)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	health.Add("database", db.Health)

	if _, err := migrateUp(ctx, db, log); err != nil {
		return err
	}

	var backend engineStore = store.NewSQL(db.DB, db.Dialect)

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		shared, err := redisstore.New(backend, rc.Client,
			redisstore.WithLogger(log),
			redisstore.WithMetrics(m),
			redisstore.WithTTL(cfg.Redis.TTL),
		)
		if err != nil {
			return fmt.Errorf("create redis store: %w", err)
		}
		backend = shared
		health.Add("redis", rc.Health)
		log.Info("shared redis layer enabled")
	}

	activeCache, err := cache.New(backend,
		cache.WithConfig(cache.Config{
			MaxEntries:    cfg.Cache.MaxEntries,
			FreshFor:      cfg.Cache.FreshFor,
			IdleTTL:       cfg.Cache.IdleTTL,
			LoadTimeout:   cfg.Cache.LoadTimeout,
			SweepInterval: cfg.Cache.SweepInterval,
		}),
		cache.WithLogger(log),
		cache.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer activeCache.Close()

	sinks := notify.MultiSink{notify.NewLogSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := kafka.New(cfg.Kafka, kafka.WithLogger(log))
		if err != nil {
			return fmt.Errorf("create kafka sink: %w", err)
		}
		defer func() {
			if err := ks.Close(context.Background()); err != nil {
				log.Warn("kafka sink close failed", "error", err)
			}
		}()
		if err := ks.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return fmt.Errorf("ensure kafka topic: %w", err)
		}
		sinks = append(sinks, ks)
		health.Add("kafka", ks.Ping)
	}

	publisher := notify.NewPublisher(sinks,
		notify.WithAsyncBuffer(cfg.Notify.Buffer),
		notify.WithLogger(log),
		notify.WithMetrics(m),
	)
	defer publisher.Close()

	svc, err := service.New(backend,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithCache(activeCache),
		service.WithPublisher(publisher),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	gateway, err := enforcement.New(activeCache,
		enforcement.WithConfig(cfg.Enforcement),
		enforcement.WithLogger(log),
		enforcement.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	deps := httptransport.Deps{
		Logger:       log,
		Health:       health,
		Metrics:      pm.Handler(),
		MetricsToken: cfg.Server.MetricsToken,
	}
	if cfg.Server.AdminJWTKey != "" {
		validator := jwttoken.NewJWTServiceAdapter(
			jwttoken.NewJWTService(cfg.Server.AdminJWTKey, jwttoken.Issuer, jwttoken.Audience),
		)
		deps.API = handler.New(svc, gateway, log, pm, validator)
	} else {
		log.Warn("admin API disabled: server.admin_jwt_key is not set")
	}

	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(deps))
	return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log)
}

func logStartup(log *slog.Logger, cfg config.Config) {
	log.Info("starting ban",
		"addr", cfg.Server.Addr,
		"database_driver", cfg.Database.Driver,
		"redis", cfg.Redis.URL != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
		"login_failure_policy", cfg.Enforcement.FailurePolicy,
		"chat_failure_policy", cfg.Enforcement.ChatFailurePolicy,
	)
}
