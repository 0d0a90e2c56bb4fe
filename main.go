package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"mentorship-chat/internal/cache"
	"mentorship-chat/internal/config"
	"mentorship-chat/internal/db"
	"mentorship-chat/internal/feed"
	grpcserver "mentorship-chat/internal/grpc"
	"mentorship-chat/internal/handlers"
	"mentorship-chat/internal/identity"
	"mentorship-chat/internal/logger"
	"mentorship-chat/internal/middleware"
	"mentorship-chat/internal/observability"
	"mentorship-chat/internal/rabbitmq"
	"mentorship-chat/internal/repositories"
	"mentorship-chat/internal/telemetry"
	"mentorship-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(cfg.DatabaseDSN, cfg.FeedChannel, log)
	if err != nil {
		log.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	verifier, err := identity.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatal("failed to build token verifier", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, telemetry.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	connRepo := repositories.NewConnectionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileRepo := repositories.NewProfileRepo(database)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, profile cache disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	directory := cache.NewProfileDirectory(rdb, profileRepo, cfg.ProfileCacheTTL, log)

	changes := feed.NewHub(feed.DefaultBuffer, log)
	listener, err := feed.NewListener(cfg.DatabaseDSN, cfg.FeedChannel, changes, messageRepo, log)
	if err != nil {
		log.Fatal("failed to listen for message changes", zap.Error(err))
	}
	defer listener.Close()
	go listener.Run(ctx)

	health := grpcserver.NewHealthServer(log)
	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		log.Fatal("failed to listen for grpc health", zap.String("addr", cfg.GRPCHealthAddr), zap.Error(err))
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()

	connectionHandler := handlers.NewConnectionHandler(connRepo, messageRepo, directory, audit, log)
	conversationWS := ws.NewConversationHandler(ws.NewHub(), verifier, connRepo, messageRepo, directory, changes, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/connections/:connection_id", authMiddleware, connectionHandler.GetConnection)
	router.GET("/connections/:connection_id/messages", authMiddleware, connectionHandler.GetMessages)
	router.POST("/connections/:connection_id/messages", authMiddleware, connectionHandler.PostMessage)
	router.POST("/connections/:connection_id/messages/read", authMiddleware, connectionHandler.MarkRead)
	router.GET("/connections/:connection_id/messages/:message_id", authMiddleware, connectionHandler.GetMessage)

	router.GET("/ws/connections/:connection_id", conversationWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, changes, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()
	health.SetServing(true)

	<-ctx.Done()
	health.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
