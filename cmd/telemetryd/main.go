package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/api"
	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/db"
	"iot-telemetry-backend/internal/logging"
	"iot-telemetry-backend/internal/metrics"
	"iot-telemetry-backend/internal/notification"
	"iot-telemetry-backend/internal/relay"
	"iot-telemetry-backend/internal/retention"
	"iot-telemetry-backend/internal/store"
	"iot-telemetry-backend/internal/telemetry"
	"iot-telemetry-backend/internal/view"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "telemetryd")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, cfg.Log.SQLLevel, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	appStore := store.NewGormStore(gormDB)
	origins := telemetry.NewOriginTracker()
	views := view.NewService(appStore, origins, view.WithConnectedWithin(cfg.Dashboard.ConnectedWithin))

	hub := broadcast.NewHub(logger, m, views.Snapshot)
	defer hub.Close()

	// Relay changes go to every configured transport; the hub is always one.
	publishers := broadcast.Fanout{hub}

	if cfg.Broadcast.MQTT.Enabled {
		mqttPub, err := broadcast.DialMQTT(cfg.Broadcast.MQTT)
		if err != nil {
			logger.Fatal("failed to connect to MQTT broker", zap.String("broker", cfg.Broadcast.MQTT.Broker), zap.Error(err))
		}
		defer mqttPub.Close()
		publishers = append(publishers, mqttPub)
		logger.Info("mqtt broadcast enabled", zap.String("broker", cfg.Broadcast.MQTT.Broker))
	}

	if cfg.Broadcast.Redis.Enabled {
		redisPub := broadcast.NewRedisPublisher(cfg.Broadcast.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisPub.Ping(pingCtx); err != nil {
			logger.Warn("redis not reachable yet, publishing anyway", zap.String("addr", cfg.Broadcast.Redis.Addr), zap.Error(err))
		}
		pingCancel()
		defer redisPub.Close()
		publishers = append(publishers, redisPub)
		logger.Info("redis broadcast enabled", zap.String("addr", cfg.Broadcast.Redis.Addr))
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, gormDB, webpushOptions, logger)
		workerPool.Start(ctx)
		publishers = append(publishers, workerPool)
		logger.Info("web push notifications enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		logger.Info("VAPID keys not configured, web push notifications disabled")
	}

	dispatcher := relay.NewDispatcher(cfg.Relay, origins, views, publishers, logger, m)

	janitor := retention.NewJanitor(cfg.Retention, appStore, logger, m)
	go janitor.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Views:     views,
		Origins:   origins,
		Relay:     dispatcher,
		Live:      hub,
		Metrics:   m,
		Logger:    logger,
		WebPush:   webpushOptions,
		Dashboard: cfg.Dashboard,
	})
	router := api.NewRouter(cfg, handler, api.RouterOptions{
		Live:     hub,
		Gatherer: reg,
		Logger:   logger,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
