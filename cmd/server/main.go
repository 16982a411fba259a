package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"aegis/internal/acls"
	"aegis/internal/platform/config"
	"aegis/internal/platform/database"
	"aegis/internal/platform/health"
	"aegis/internal/platform/kafka/producer"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/middleware"
	platformredis "aegis/internal/platform/redis"
	"aegis/internal/realm/aggregate"
	"aegis/internal/realm/handler"
	"aegis/internal/realm/index"
	"aegis/internal/realm/journal"
	realmmetrics "aegis/internal/realm/metrics"
	"aegis/internal/realm/models"
	"aegis/internal/realm/projector"
	"aegis/internal/realm/publisher"
	"aegis/internal/realm/service"
	"aegis/internal/realm/token"
	"aegis/internal/realm/wellknown"
	id "aegis/pkg/domain"
)

// main wires the process-wide collaborators (clock, HTTP client, journal,
// index) into the realm subsystem and keeps the server lifecycle small.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	wallClock := clock.WallClock

	log.Info("initializing aegis", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)

	healthHandler := health.New(cfg.Server.Environment)

	// Journal: postgres when configured, in-memory otherwise.
	var (
		eventJournal journal.EventJournal
		snapshots    journal.SnapshotStore
		offsets      journal.OffsetStore
	)
	if cfg.Database.URL != "" {
		pool, err := database.New(database.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Error("database init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		healthHandler.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
		pg := journal.NewPostgres(pool.DB())
		eventJournal, snapshots, offsets = pg, pg, pg.Offsets()
	} else {
		mem := journal.NewInMemory()
		eventJournal, snapshots, offsets = mem, mem, mem.Offsets()
	}

	// Index: redis-replicated when configured, process-local otherwise.
	var (
		realmIndex  index.Index
		issuerGuard models.IssuerGuard
	)
	if cfg.Redis.URL != "" {
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("redis init failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
		idx := index.NewRedis(redisClient.Client, cfg.KeyValueStore.AskTimeout, cfg.KeyValueStore.ConsistencyTimeout)
		realmIndex, issuerGuard = idx, idx
	} else {
		idx := index.NewInMemory()
		realmIndex, issuerGuard = idx, idx
	}

	resolver := wellknown.New(
		&http.Client{Timeout: 10 * time.Second},
		wellknown.WithRetry(cfg.Aggregate.Retry),
		wellknown.WithClock(wallClock),
		wellknown.WithLogger(log),
	)

	aggCfg := aggregate.Config{
		AskTimeout:         cfg.Aggregate.AskTimeout,
		EvaluationTimeout:  cfg.Aggregate.CommandEvaluationTimeout,
		SnapshotEvery:      cfg.Aggregate.SnapshotEvery,
		PassivateAfterIdle: cfg.Aggregate.LapsedSinceLastInteraction,
		PassivateAfterAge:  cfg.Aggregate.LapsedSinceRecoveryCompleted,
		RecoveryRetry:      cfg.Aggregate.Retry,
	}
	aggOpts := []aggregate.Option{aggregate.WithLogger(log)}
	if cfg.Kafka.Brokers != "" {
		prod, err := producer.New(producer.Config{Brokers: cfg.Kafka.Brokers, Acks: "all", Retries: 3}, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer prod.Close()
		aggOpts = append(aggOpts, aggregate.WithPublisher(publisher.NewKafka(prod, cfg.Kafka.Topic)))
	}
	agg := aggregate.New(aggCfg, eventJournal, snapshots,
		models.EvaluationDeps{Clock: wallClock, Resolver: resolver, Issuers: issuerGuard},
		aggOpts...,
	)

	verifier := token.NewVerifier(realmIndex, log)
	accessControl := acls.NewInMemory()
	accessControl.Grant("/", service.PermissionRead, id.Anonymous())

	metrics := realmmetrics.New()
	realms := service.New(agg, realmIndex, verifier, func() acls.Acls { return accessControl },
		service.WithClock(wallClock),
		service.WithLogger(log),
		service.WithMetrics(metrics),
	)

	proj := projector.New(
		projector.Config{
			Batch:                 cfg.Indexing.Batch,
			BatchTimeout:          cfg.Indexing.BatchTimeout,
			Retry:                 cfg.Indexing.Retry,
			PersistAfterProcessed: cfg.Indexing.PersistAfterProcessed,
			ProgressMaxTimeWindow: cfg.Indexing.ProgressMaxTimeWindow,
		},
		eventJournal, offsets, realmIndex, realms,
		projector.WithClock(wallClock),
		projector.WithLogger(log),
	)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.Timeout(30 * time.Second))

	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	handler.New(realms, log).Register(router)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := proj.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
