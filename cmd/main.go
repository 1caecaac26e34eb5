package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"channel-manager/internal/api"
	"channel-manager/internal/auth"
	"channel-manager/internal/config"
	"channel-manager/internal/gateway"
	"channel-manager/internal/logger"
	"channel-manager/internal/manager"
	"channel-manager/internal/messaging"
	"channel-manager/internal/metrics"
	"channel-manager/internal/storage"
	"channel-manager/internal/worker"
)

// @title Channel Manager API
// @version 1.0
// @description Per-tenant messaging channel lifecycle: provisioning, QR handshake, reconciliation and teardown
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()
	zlog.Info("configuration loaded", zap.String("env", cfg.Server.Env))

	// Dashboard caller auth
	authn, err := auth.New(cfg.Auth.JWTSecret)
	if err != nil {
		zlog.Fatal("failed to init auth", zap.Error(err))
	}

	// Init PostgreSQL
	db, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		zlog.Fatal("failed to init DB", zap.Error(err))
	}
	defer db.DB.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		zlog.Fatal("failed to ensure schema", zap.Error(err))
	}
	zlog.Info("PostgreSQL connected")

	// Init RabbitMQ event pipeline (optional)
	var pub manager.EventPublisher
	var rabbitClient *messaging.RabbitClient
	if cfg.RabbitMQ.URL != "" {
		rabbitClient, err = messaging.NewRabbitClient(cfg.RabbitMQ.URL, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitClient.Close()
		pub = rabbitClient
		zlog.Info("RabbitMQ connected")
	} else {
		zlog.Info("RabbitMQ not configured, event pipeline disabled")
	}

	// Remote gateway client
	gw, err := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
	if err != nil {
		zlog.Fatal("failed to init gateway client", zap.Error(err))
	}

	// Lifecycle manager
	callbackURL := ""
	if cfg.Webhook.CallbackBaseURL != "" {
		callbackURL = cfg.Webhook.CallbackBaseURL + "/webhooks/provider"
	}
	mgr := manager.NewManager(db, gw, pub, callbackURL, cfg.Webhook.ForwardURL, zlog)

	// Webhook worker pool
	pool := worker.NewPool(cfg.Workers, mgr.HandleProviderEvent, zlog)
	pool.Start()

	// Background loop refreshing the connected-instances gauge and tenant
	// queue depths
	tickerCtx, tickerStop := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				instances, err := db.ListInstances(tickerCtx)
				if err != nil {
					zlog.Warn("failed to refresh instance metrics", zap.Error(err))
					continue
				}
				connected := 0
				for _, inst := range instances {
					if inst.IsConnected {
						connected++
					}
					if rabbitClient != nil {
						rabbitClient.UpdateQueueDepth(inst.TenantID.String())
					}
				}
				metrics.ConnectedInstances.Set(float64(connected))
			}
		}
	}()

	// Init API
	apiHandler := api.NewAPI(mgr, pool, authn, cfg.Webhook.Secret, zlog)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiHandler.Router(),
	}

	// Graceful Shutdown Setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zlog.Info("starting API server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	zlog.Info("shutdown initiated")

	// Shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("HTTP shutdown error", zap.Error(err))
	}

	tickerStop()
	pool.Stop()

	zlog.Info("graceful shutdown complete")
}
