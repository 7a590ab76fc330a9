package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/broadcast"
	"github.com/chatfabric/chatfabric/internal/config"
	"github.com/chatfabric/chatfabric/internal/consumer"
	"github.com/chatfabric/chatfabric/internal/deadletter"
	"github.com/chatfabric/chatfabric/internal/extqueue"
	"github.com/chatfabric/chatfabric/internal/health"
	"github.com/chatfabric/chatfabric/internal/ingress"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/middleware"
	"github.com/chatfabric/chatfabric/internal/partition"
	"github.com/chatfabric/chatfabric/internal/producer"
	"github.com/chatfabric/chatfabric/internal/ratelimit"
	"github.com/chatfabric/chatfabric/internal/registry"
	"github.com/chatfabric/chatfabric/internal/store"
	"github.com/chatfabric/chatfabric/internal/tracing"
	"github.com/chatfabric/chatfabric/internal/writeserializer"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	if err := logging.Initialize(os.Getenv("GO_ENV") != "production"); err != nil {
		panic(err)
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logging.Fatal(nil, "configuration invalid", zap.Error(err))
	}

	ctx := context.Background()

	if cfg.TracingCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "chatfabric", cfg.TracingCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	reg := registry.New()
	serializer := writeserializer.New(cfg.WriteSerializerWorkerThreads, cfg.SessionWriteQueueCapacity)
	defer serializer.Release()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logging.Fatal(ctx, "failed to load aws config", zap.Error(err))
	}
	sqsAPI := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.SQSEndpoint != "" {
			o.BaseEndpoint = &cfg.SQSEndpoint
		}
	})
	queueClient := extqueue.NewSQSClient(sqsAPI)

	db, err := sqlx.Connect("mysql", cfg.DatabaseDSN)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	dlq := deadletter.New(queueClient, cfg.DLQQueueName, cfg.DLQEnabled)
	writer := store.New(db, dlq, cfg.BatchWriterSize, cfg.BatchWriterBufferCapacity, cfg.BatchWriterFlushInterval)
	defer writer.Release()

	prod := producer.New(queueClient, cfg.QueuePrefix, cfg.ProducerBatchEnabled, cfg.ProducerBatchMaxSize, cfg.ProducerBatchFlushInt)
	defer prod.Release()

	caster := broadcast.New(serializer, reg, false)

	assignedRooms := partition.AssignedRooms(cfg.NodeID, cfg.NodeList, cfg.Rooms)
	pool := consumer.New(queueClient, cfg.QueuePrefix, assignedRooms, cfg.ConsumerThreads,
		cfg.ConsumerMaxMessages, cfg.ConsumerWaitTime, cfg.ConsumerVisibilityTimeout, cfg.QueueURLRetryInterval,
		caster, writer)
	defer pool.Release()

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to construct rate limiter", zap.Error(err))
	}

	wsHandler := ingress.New(reg, serializer, prod, limiter, cfg.NodeID, cfg.Rooms, cfg.AllowedOrigins)
	healthHandler := health.NewHandler(writer, queueClient)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	router.Use(cors.New(corsCfg))

	wsHandler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "chatfabric node starting", zap.String("node_id", cfg.NodeID), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "chatfabric node stopped")
}
