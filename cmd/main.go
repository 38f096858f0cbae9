/**
 * @description
 * This is the main entry point for the meal-mitra API. It loads configuration,
 * connects the donation store, rate limiter, event producer and extraction client,
 * wires the donation service and its notification dispatcher, starts the badge
 * reconciliation scheduler and serves HTTP until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/extractorclient, pkg/rabbitmq: Clients for the extraction service and RabbitMQ.
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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pankajsagvekar/meal-mitra/internal/api"
	"github.com/pankajsagvekar/meal-mitra/internal/app"
	"github.com/pankajsagvekar/meal-mitra/internal/config"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
	"github.com/pankajsagvekar/meal-mitra/pkg/extractorclient"
	rmrabbit "github.com/pankajsagvekar/meal-mitra/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.SessionJWTSecret == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"session secret must be configured\" env=SESSION_JWT_SECRET")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting meal-mitra api\" port=%s", cfg.ServerPort)

	var repository store.Repository
	if cfg.DatabaseURL == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory store\" env=DATABASE_URL")
		repository = store.NewMemoryRepository()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 100
		poolConfig.MinConns = 20
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
		if err := store.EnsureSchema(schemaCtx, dbpool); err != nil {
			cancelSchema()
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		cancelSchema()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool)
	}

	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	dispatcher := app.NewDispatcher(
		publisher,
		cfg.EventsExchange,
		cfg.NotifyQueueSize,
		time.Duration(cfg.NotifyTimeoutMS)*time.Millisecond,
		logger.With("component", "dispatcher"),
	)
	dispatcher.Start()

	var extractor app.Extractor
	if cfg.ExtractorURL == "" {
		log.Println("level=warn component=bootstrap msg=\"extractor url missing; using fallback parser only\" env=EXTRACTOR_URL")
	} else {
		extractor = app.NewRemoteExtractor(extractorclient.NewClient(
			cfg.ExtractorURL,
			cfg.ExtractorAPIKey,
			time.Duration(cfg.ExtractorTimeoutMS)*time.Millisecond,
		))
	}

	donationService := app.NewService(repository, extractor, dispatcher, app.Options{
		Policy: domain.ImpactPolicy{
			MealsPerKg:   cfg.MealsPerKg,
			CO2PerKg:     cfg.CO2PerKg,
			ValuePerMeal: cfg.ValuePerMeal,
		},
		CodeTTL:              time.Duration(cfg.HandoverCodeTTLMinutes) * time.Minute,
		CodeLength:           cfg.HandoverCodeLength,
		ExtractTimeout:       time.Duration(cfg.ExtractorTimeoutMS) * time.Millisecond,
		ClaimLimitPerMinute:  cfg.ClaimRateLimitPerMinute,
		VerifyLimitPerMinute: cfg.VerifyRateLimitPerMinute,
	})

	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process rate limiting\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process rate limiting\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process rate limiting\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				donationService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	jobs := app.NewJobs(donationService, time.Duration(cfg.BadgeReconcileLookbackHrs)*time.Hour, logger.With("component", "scheduler"))
	scheduler := app.NewScheduler(jobs, logger.With("component", "scheduler"), cfg.BadgeReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewHandlers(donationService)
	router := api.NewRouter(handlers, cfg.SessionJWTSecret, cfg.AllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"running job did not finish before shutdown\"")
	}
	if err := dispatcher.Close(ctx); err != nil {
		log.Printf("level=warn component=dispatcher msg=\"queue not drained before shutdown\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
