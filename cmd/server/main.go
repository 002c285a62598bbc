package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/guichetdigital/notification-service/internal/config"
	"github.com/guichetdigital/notification-service/internal/handlers"
	"github.com/guichetdigital/notification-service/internal/middleware"
	"github.com/guichetdigital/notification-service/internal/providers"
	"github.com/guichetdigital/notification-service/internal/queue"
	"github.com/guichetdigital/notification-service/internal/service"
	"github.com/guichetdigital/notification-service/internal/store"
	"github.com/guichetdigital/notification-service/pkg/logger"
	"github.com/guichetdigital/notification-service/pkg/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	zlog, err := logger.New(false)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		zlog.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	redisClient, err := redis.InitRedis(cfg.Redis)
	if err != nil {
		zlog.Fatal("failed to connect to redis", zap.Error(err))
	}

	rabbitClient, err := queue.NewRabbitMqClient(cfg.RabbitMQ, zlog)
	if err != nil {
		// Quiet-hours deferral degrades without the queue, sends still work.
		zlog.Warn("rabbitmq unavailable, scheduled dispatch disabled", zap.Error(err))
	} else {
		defer rabbitClient.CloseConnection()
		if err := rabbitClient.SetUpExchangeAndQueue(); err != nil {
			zlog.Fatal("failed to declare rabbitmq topology", zap.Error(err))
		}
	}

	pushProvider := providers.NewPushProvider(
		cfg.Providers.Push.BaseURL, cfg.Providers.Push.APIKey, redisClient, zlog)
	senders := []providers.Sender{
		providers.NewEmailProvider(
			cfg.Providers.Email.BaseURL, cfg.Providers.Email.APIKey,
			cfg.Providers.Email.From, cfg.Providers.Email.FromName, zlog),
		providers.NewSMSProvider(
			cfg.Providers.SMS.BaseURL, cfg.Providers.SMS.APIKey,
			cfg.Providers.SMS.SenderID, zlog),
		providers.NewWhatsAppProvider(
			cfg.Providers.WhatsApp.BaseURL, cfg.Providers.WhatsApp.Token,
			cfg.Providers.WhatsApp.Sender, zlog),
		pushProvider,
	}

	notificationStore := store.NewPostgresStore(pool)
	var scheduler queue.Scheduler
	if rabbitClient != nil {
		scheduler = rabbitClient
	}
	orchestrator := service.NewOrchestrator(notificationStore, senders, scheduler, redisClient, zlog)

	if rabbitClient != nil {
		go func() {
			if err := rabbitClient.ConsumeScheduled(ctx, orchestrator.DispatchScheduled); err != nil && ctx.Err() == nil {
				zlog.Error("scheduled consumer stopped", zap.Error(err))
			}
		}()
	}

	notificationHandler := handlers.NewNotificationHandler(orchestrator, pushProvider, zlog)
	var queueChecker handlers.QueueChecker
	if rabbitClient != nil {
		queueChecker = rabbitClient
	}
	healthHandler := handlers.NewHealthHandler(pool, redisClient, queueChecker)

	r := gin.Default()
	r.Use(middleware.CorrelationID())

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		api.POST("/notifications", notificationHandler.Send)
		api.POST("/notifications/bulk", notificationHandler.SendBulk)
		api.POST("/notifications/retry", notificationHandler.RetryFailed)
		api.GET("/notifications/stats", notificationHandler.GetStats)
		api.POST("/notifications/cleanup", notificationHandler.Cleanup)
		api.POST("/push/subscriptions", notificationHandler.RegisterPushSubscription)
		api.DELETE("/push/subscriptions", notificationHandler.UnregisterPushSubscription)
	}

	r.GET("/health", healthHandler.HealthCheck)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}
