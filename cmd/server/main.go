package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bridgecore/eventrelay/internal/api"
	"github.com/bridgecore/eventrelay/internal/config"
	"github.com/bridgecore/eventrelay/internal/database"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/bridgecore/eventrelay/internal/services"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if present
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("connected to redis")

	eventRepo := repositories.NewPostgresEventRepository(pool)
	ruleRepo := repositories.NewPostgresRuleRepository(pool)
	cursorRepo := repositories.NewPostgresCursorRepository(pool)
	deadLetterRepo := repositories.NewPostgresDeadLetterRepository(pool)

	ruleCache := services.NewRuleCache(ruleRepo, logger)
	if err := ruleCache.Invalidate(ctx); err != nil {
		return err
	}

	var sender services.DeliverySender
	dispatcherDone := make(chan struct{})
	var dispatcher *services.Dispatcher
	if cfg.DeliveryEndpoint != "" {
		sender = services.NewHTTPDeliverySender(cfg.DeliveryEndpoint, cfg.DeliverySecret, cfg.DeliveryTimeout)
		dispatcher = services.NewDispatcher(eventRepo, deadLetterRepo, sender, services.DispatcherConfig{
			Workers:     cfg.DeliveryWorkers,
			QueueSize:   cfg.DeliveryQueueSize,
			MaxAttempts: cfg.DeliveryMaxAttempts,
			BaseDelay:   cfg.DeliveryBaseDelay,
			MaxDelay:    cfg.DeliveryMaxDelay,
			Timeout:     cfg.DeliveryTimeout,
		}, logger)
		go func() {
			defer close(dispatcherDone)
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dispatcher stopped", zap.Error(err))
			}
		}()
		logger.Info("instant delivery enabled",
			zap.String("endpoint", cfg.DeliveryEndpoint),
			zap.Int("workers", cfg.DeliveryWorkers))
	} else {
		close(dispatcherDone)
		logger.Info("no delivery endpoint configured, push path disabled")
	}

	limiter := services.NewRedisRateLimiter(redisClient, logger)
	debouncer := services.NewDebouncer()
	defer debouncer.Stop()

	var enqueuer services.Enqueuer
	if dispatcher != nil {
		enqueuer = dispatcher
	}
	classifier := services.NewClassifier(ruleCache, eventRepo, limiter, enqueuer, debouncer, logger)

	syncService := services.NewSyncService(cursorRepo, logger)
	sweeper := services.NewSweeper(eventRepo, cursorRepo, deadLetterRepo,
		cfg.ArchiveAfter, cfg.PurgeAfter, cfg.DeadLetterRetention, cfg.CursorRetention, logger)
	if cfg.SweepInterval > 0 {
		go sweeper.RunPeriodic(ctx, cfg.SweepInterval)
	}

	handler := api.NewHandler(eventRepo, ruleRepo, deadLetterRepo,
		ruleCache, classifier, syncService, sweeper, logger)
	router := api.NewRouter(handler, cfg.APIKey)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.ServerPort))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	<-dispatcherDone
	return nil
}
