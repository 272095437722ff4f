package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/config"
	_ "github.com/d60-Lab/timeline-engine/docs"
	"github.com/d60-Lab/timeline-engine/internal/api"
	"github.com/d60-Lab/timeline-engine/internal/api/handler"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
	"github.com/d60-Lab/timeline-engine/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "timeline-engine", cfg.Trace.Endpoint)
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("open database", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{},
		&model.TimelineEntry{}, &model.FanoutJob{},
	); err != nil {
		logger.Error("migrate", zap.Error(err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	jobRepo := repository.NewFanoutJobRepository(db)

	counter := service.NewFollowerCounter(fanRepo, rdb, cfg.Fanout.CounterTTL, cfg.Fanout.CelebrityThreshold)
	replicator := service.NewFanReplicator(fanRepo, counter, 0)
	stopReplicator := replicator.Start(cfg.Fanout.Workers)
	defer func() { _ = stopReplicator(context.Background()) }()

	worker := service.NewFanoutWorker(
		fanRepo, timelineRepo, jobRepo,
		cfg.Fanout.Workers, cfg.Fanout.PageSize, cfg.Fanout.PageParallelism,
		cfg.Fanout.ClaimLimit, cfg.Fanout.PollInterval, cfg.Fanout.WriteRatePerSec,
	)
	stopWorker := worker.Start()
	defer func() { _ = stopWorker(context.Background()) }()

	reconciler := service.NewReconciler(
		jobRepo, timelineRepo,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.AuditWindow,
		cfg.Reconciler.MaxAttempts, cfg.Reconciler.PurgeBatchSize,
	)
	go reconciler.Run(ctx)

	timeline := service.NewTimelineService(timelineRepo, postRepo, followRepo, counter, rdb)
	relService := service.NewRelationshipService(
		userRepo, followRepo, fanRepo, timelineRepo,
		replicator, counter, timeline, cfg.Fanout.PurgeOnUnfollow,
	)
	publisher := service.NewPublisher(db, postRepo, jobRepo, counter)
	followerCache := service.NewFollowerCache(db, rdb, 5*time.Minute)

	h := handler.NewHandler(relService, publisher, timeline, followerCache, userRepo)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewRouter(cfg.Server.Mode, h)}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}
