package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payndeliver-cart/internal/cache"
	"payndeliver-cart/internal/config"
	"payndeliver-cart/internal/handler"
	"payndeliver-cart/internal/logger"
	"payndeliver-cart/internal/middleware"
	"payndeliver-cart/internal/repository"
	"payndeliver-cart/internal/router"
	"payndeliver-cart/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	log := logger.Must(cfg.App.Environment, cfg.App.LogLevel)
	defer log.Sync()

	log.Info("starting cart API",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	cartRepo, err := openCartRepository(ctx, &cfg.CartDB, log)
	cancel()
	if err != nil {
		return err
	}
	defer cartRepo.Close()

	// Initialize Redis client (optional)
	var redisClient *redis.Client
	if cfg.Cache.BufferEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis connection failed, buffer disabled", zap.Error(err))
			redisClient.Close()
			redisClient = nil
		} else {
			log.Info("redis client initialized", zap.String("addr", cfg.Cache.RedisAddress()))
		}
		cancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	cartService := service.NewCartService(cartRepo, log)

	var redisBuffer *cache.RedisCartBuffer
	if redisClient != nil {
		redisBuffer = cache.NewRedisCartBuffer(redisClient, cache.RedisBufferConfig{
			FlushInterval: cfg.Cache.FlushInterval,
			KeyPrefix:     cfg.Cache.KeyPrefix,
		}, service.CreateFlushFunc(cartRepo), log)
		cartService.SetBuffer(redisBuffer)
		log.Info("redis cart buffer initialized")
	}

	var cleanup *service.CleanupScheduler
	if cfg.Cleanup.Enabled {
		cleanup = service.NewCleanupScheduler(cartRepo, service.CleanupConfig{
			InactiveThreshold: cfg.Cleanup.Threshold,
			CleanupInterval:   cfg.Cleanup.Interval,
		}, log)
		cleanup.Start()
	}

	checks := []handler.NamedCheck{{Name: "database", Check: cartService.Ping}}
	if redisClient != nil {
		checks = append(checks, handler.NamedCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	stopLimiter := make(chan struct{})
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(time.Minute, stopLimiter)
	defer close(stopLimiter)

	r := router.New(router.Config{
		Handler:        handler.New(cfg.App.Name, cfg.App.Version, checks...),
		CartHandler:    handler.NewCartHandler(cartService, log),
		AdminHandler:   handler.NewAdminHandler(redisBuffer, cartRepo, cfg.CartDB.Type),
		AuthMiddleware: middleware.APIKey(cfg.Server.Keys()),
		RateLimiter:    limiter,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	// Drain the buffer before the repository closes.
	if redisBuffer != nil {
		log.Info("closing redis buffer")
		if err := redisBuffer.Close(); err != nil {
			log.Error("redis buffer close failed", zap.Error(err))
		}
	}
	if cleanup != nil {
		cleanup.Stop()
	}
	return nil
}

// openCartRepository selects the cart store by CART_DB_TYPE.
func openCartRepository(ctx context.Context, cfg *config.CartDBConfig, log *zap.Logger) (repository.CartRepository, error) {
	switch cfg.Type {
	case "mongodb", "mongo":
		repo, err := repository.NewMongoDBCartRepository(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		log.Info("MongoDB cart repository initialized")
		return repo, nil
	case "postgres", "postgresql":
		repo, err := repository.OpenPostgresCartRepository(ctx, cfg.PostgresDSN(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		log.Info("PostgreSQL cart repository initialized")
		return repo, nil
	case "mysql":
		repo, err := repository.OpenMySQLCartRepository(ctx, cfg.MySQLDSN(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MySQL: %w", err)
		}
		log.Info("MySQL cart repository initialized")
		return repo, nil
	default: // sqlite
		repo, err := repository.NewSQLiteCartRepository(cfg.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		log.Info("SQLite cart repository initialized", zap.String("path", cfg.Path))
		return repo, nil
	}
}
