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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/config"
	"github.com/kaajbazar/service-booking/internal/events"
	"github.com/kaajbazar/service-booking/internal/gateway/stripegw"
	"github.com/kaajbazar/service-booking/internal/handler"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/database"
	"github.com/kaajbazar/service-booking/internal/platform/health"
	"github.com/kaajbazar/service-booking/internal/platform/kafka"
	"github.com/kaajbazar/service-booking/internal/platform/lock"
	"github.com/kaajbazar/service-booking/internal/platform/logger"
	"github.com/kaajbazar/service-booking/internal/platform/metrics"
	"github.com/kaajbazar/service-booking/internal/platform/middleware"
	"github.com/kaajbazar/service-booking/internal/repository"
	"github.com/kaajbazar/service-booking/internal/scheduler"
)

const serviceName = "service-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := repository.AutoMigrate(db); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), cfg.MigrationsDir, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()
	notifier := events.NewKafkaNotifier(kafkaProducer, events.TopicBookingEvents, log)

	// Payout runs are serialized through Redis when it is configured
	var locker application.Locker
	if cfg.RedisConfig.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer func() { _ = redisClient.Close() }()
		locker = lock.NewRedisLocker(redisClient)
	} else {
		log.Warn("REDIS_ADDR not set, payout runs are not serialized across replicas")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	// Payment gateway
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY not set, payment calls will fail")
	}
	gateway := stripegw.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log)

	clk := clock.RealClock{}

	// Initialize repositories
	bookingRepo := repository.NewGormBookingRepository(db)
	commissionRepo := repository.NewGormCommissionRepository(db)
	payoutRepo := repository.NewGormPayoutRepository(db)
	directoryRepo := repository.NewGormDirectory(db)

	// Initialize application services
	commissionService := application.NewCommissionService(commissionRepo, bookingRepo, directoryRepo, clk, log)
	bookingService := application.NewBookingService(
		bookingRepo,
		commissionService,
		directoryRepo,
		gateway,
		notifier,
		appMetrics,
		clk,
		log,
	)
	payoutService := application.NewPayoutService(
		payoutRepo,
		bookingRepo,
		locker,
		cfg.Settlement.PayoutLockTTL,
		notifier,
		appMetrics,
		clk,
		log,
	)
	settlementService := application.NewSettlementService(
		bookingRepo,
		payoutRepo,
		payoutService,
		gateway,
		notifier,
		appMetrics,
		clk,
		cfg.Settlement.DueAfter,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start event consumers
	paymentConsumer := events.NewPaymentEventConsumer(
		cfg.KafkaConfig.Brokers,
		cfg.KafkaConfig.GroupPrefix+"booking-service",
		settlementService,
		log,
	)
	defer func() { _ = paymentConsumer.Close() }()

	directoryConsumer := events.NewDirectoryConsumer(
		cfg.KafkaConfig.Brokers,
		cfg.KafkaConfig.GroupPrefix+"booking-directory",
		directoryRepo,
		clk,
		log,
	)
	defer func() { _ = directoryConsumer.Close() }()

	go func() {
		log.Info("starting payment event consumer")
		if err := paymentConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("payment event consumer error", zap.Error(err))
		}
	}()
	go func() {
		log.Info("starting directory event consumer")
		if err := directoryConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("directory event consumer error", zap.Error(err))
		}
	}()

	// Start the payout scheduler
	stopScheduler := func() {}
	if cfg.Settlement.SchedulerEnabled {
		sched := scheduler.New(payoutService, scheduler.Config{
			RunInterval:  cfg.Settlement.SchedulerInterval,
			LookbackDays: cfg.Settlement.LookbackDays,
		}, clk, log)
		stopScheduler = sched.Start(ctx)
	}

	// Initialize HTTP handlers
	bookingHandler := handler.NewBookingHandler(bookingService)
	commissionHandler := handler.NewCommissionHandler(commissionService)
	payoutHandler := handler.NewPayoutHandler(payoutService)
	adminHandler := handler.NewAdminSettlementHandler(payoutService, settlementService)
	webhookHandler := handler.NewWebhookHandler(settlementService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMin, cfg.RateLimitBurst, log))

	// Register health check and metrics routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Register routes
	bookingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	commissionHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	payoutHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	adminHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	webhookHandler.RegisterRoutes(&router.RouterGroup)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	// Stop background work before the HTTP server
	cancel()
	stopScheduler()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info(serviceName + " stopped")
}
