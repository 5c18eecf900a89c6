package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/optionvault/internal/optionchain/application"
	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/quantfold/optionvault/internal/optionchain/infrastructure/messaging"
	persistence_postgres "github.com/quantfold/optionvault/internal/optionchain/infrastructure/persistence/postgres"
	persistence_redis "github.com/quantfold/optionvault/internal/optionchain/infrastructure/persistence/redis"
	httpserver "github.com/quantfold/optionvault/internal/optionchain/interfaces/http"
	"github.com/quantfold/optionvault/pkg/config"
	"github.com/quantfold/optionvault/pkg/db"
	"github.com/quantfold/optionvault/pkg/logger"
	"github.com/quantfold/optionvault/pkg/metrics"
	"github.com/quantfold/optionvault/pkg/mq"
)

var configPath = flag.String("config", "configs/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 3. Metrics
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			slog.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
		metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 4. Database
	database, err := db.Init(cfg.Database)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		err := database.AutoMigrate(
			&domain.OptionContract{},
			&domain.HistoricalOptionContract{},
			&domain.MaintenanceRun{},
		)
		if err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// 5. Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	// 6. Kafka
	producer := mq.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 7. Repositories & Application
	lockTimeout := time.Duration(cfg.Ingestion.LockTimeoutMs) * time.Millisecond
	contractRepo := persistence_postgres.NewContractRepository(database.DB, lockTimeout)
	maintenanceRepo := persistence_postgres.NewMaintenanceRepository(database.DB, lockTimeout)
	chainCache := persistence_redis.NewChainCache(redisClient, cfg.Redis.CacheTTLDuration())
	publisher := messaging.NewChainEventPublisher(producer, cfg.Kafka.ChainUpdatedTopic)

	ingestService := application.NewIngestService(
		contractRepo,
		chainCache,
		publisher,
		m,
		slog.Default(),
		cfg.Ingestion.MaxRetries,
		time.Duration(cfg.Ingestion.BaseDelayMs)*time.Millisecond,
	)
	queryService := application.NewChainQueryService(contractRepo, chainCache, slog.Default())
	lifecycleService := application.NewLifecycleService(maintenanceRepo, m, slog.Default())
	scheduler := application.NewMaintenanceScheduler(
		lifecycleService,
		maintenanceRepo,
		slog.Default(),
		time.Duration(cfg.Scheduler.TickInterval)*time.Second,
	)

	// 8. HTTP
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	handler := httpserver.NewChainHandler(ingestService, queryService, lifecycleService)
	handler.RegisterRoutes(r.Group("/api"))

	// 9. Start
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			scheduler.Start(gctx)
			return nil
		})
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down...")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
