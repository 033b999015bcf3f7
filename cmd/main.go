/**
 * @description
 * Entry point for the billing service.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dinewise/billing-service/internal/api"
	"github.com/dinewise/billing-service/internal/app"
	"github.com/dinewise/billing-service/internal/config"
	"github.com/dinewise/billing-service/internal/store"
	"github.com/dinewise/billing-service/pkg/catalogclient"
	billingrabbit "github.com/dinewise/billing-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	pgConfig.MaxConns = 100
	pgConfig.MinConns = 20
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewRepository(dbpool)
	if err := repository.EnsureSchema(ctx); err != nil {
		logger.Error("unable to apply schema", "error", err)
		os.Exit(1)
	}

	var counter app.ResourceCounter = repository
	if strings.TrimSpace(cfg.CatalogServiceURL) != "" {
		counter = catalogclient.NewClient(cfg.CatalogServiceURL, cfg.CatalogServiceAPIKey)
		logger.Info("using catalog service for billing counts", "url", cfg.CatalogServiceURL)
	}

	var publisher billingrabbit.Publisher = &billingrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := billingrabbit.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			logger.Info("connected to RabbitMQ")
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}
	defer publisher.Close()

	service := app.NewService(
		repository,
		counter,
		app.NewEventNotifier(publisher, cfg.NotificationExchange),
		cfg.Gateway,
		cfg.Fees,
		cfg.BusinessTimezone,
		logger,
	)

	if redisClient := connectRedis(cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		service.WithRateLimiter(app.NewRedisPaymentLimiter(
			redisClient,
			cfg.RedisRateLimitPrefix,
			cfg.PaymentRateLimit,
			time.Duration(cfg.PaymentRateWindowSecs)*time.Second,
		))
	}

	scheduler := app.NewScheduler(app.NewJobs(service, logger), logger, cfg.BillingJobSchedule, service.Location())
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(service)
	router := api.NewRouter(handler, api.RouterConfig{
		KeyFunc:     api.JWKSKeyFunc(cfg.AuthJWKSURL),
		Auth:        api.AuthOptions{Audience: cfg.AuthAudience, Issuer: cfg.AuthIssuer},
		InternalKey: cfg.InternalAPIKey,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown deadline")
	}

	logger.Info("server stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable;
// payment rate limiting is then disabled.
func connectRedis(redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; payment rate limiting disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; payment rate limiting disabled", "error", err)
		return nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; payment rate limiting disabled", "error", err)
		client.Close()
		return nil
	}

	logger.Info("redis connected")
	return client
}
