package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solar_monitor/internal/api"
	"solar_monitor/internal/config"
	"solar_monitor/internal/cooldown"
	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/internal/notify"
	"solar_monitor/internal/repository"
	"solar_monitor/internal/service"
	"solar_monitor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogDir, cfg.LogFileMaxAge); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	logger.Info("Starting Solar Monitoring System")

	loc, _ := cfg.Location()
	settings, err := config.LoadSettings(cfg.RulesFile)
	if err != nil {
		log.Fatal("Failed to load rules:", err)
	}
	settings.AutoResolve = settings.AutoResolve || cfg.AutoResolve
	if cfg.AlertOwnerID != "" {
		settings.AlertOwnerID = cfg.AlertOwnerID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize stores
	deps, closers, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize stores:", err)
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warnf("Closing %s failed: %v", c.GetType(), err)
			}
		}
	}()

	// Initialize engine
	engine, err := service.NewEngine(deps, service.Options{
		Location:             loc,
		Settings:             settings,
		RefreshInterval:      cfg.AlertRefreshInterval,
		ArchiveBatchSize:     cfg.ArchiveBatchSize,
		ArchiveFlushInterval: cfg.FlushInterval(),
		RawRetention:         time.Duration(cfg.RawRetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Fatal("Failed to create engine:", err)
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start engine:", err)
	}

	// Notification sinks
	badge := notify.NewBadgeSink()
	wsHub := notify.NewWebSocketHub()
	sinks := []notify.Sink{badge, notify.LogSink{}, wsHub}
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookSink(cfg.NotifyWebhookURL)
		if err != nil {
			log.Fatal("Invalid webhook sink:", err)
		}
		sinks = append(sinks, webhook)
	}
	dispatcher := notify.NewDispatcher(64, sinks...)
	stream, unsubscribe := engine.Alerts().Subscribe(ctx, domain.RoleAdmin, nil)
	dispatcher.Start(stream)

	// Setup HTTP server
	router := setupRouter(api.NewHandler(engine, badge, wsHub))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %d", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced shutdown: %v", err)
	}

	wsHub.Close()
	unsubscribe()
	dispatcher.Stop()
	engine.Stop()

	logger.Info("Server stopped gracefully")
}

// buildDeps wires repositories for the configured backends
func buildDeps(ctx context.Context, cfg *config.Config) (service.Deps, []config.Database, error) {
	var deps service.Deps
	var closers []config.Database

	switch cfg.StoreType {
	case "mongo":
		mongoDB, err := config.InitMongo(cfg)
		if err != nil {
			return deps, closers, err
		}
		closers = append(closers, mongoDB)

		alerts, err := repository.NewMongoAlertRepo(ctx, mongoDB)
		if err != nil {
			return deps, closers, err
		}
		raw, err := repository.NewRawTelemetryRepo(ctx, mongoDB)
		if err != nil {
			return deps, closers, err
		}
		deps.Alerts = alerts
		deps.Production = repository.NewMongoProductionRepo(mongoDB)
		deps.Sites = repository.NewMongoSiteRepo(mongoDB)
		deps.Raw = raw
	default:
		logger.Warn("Using in-memory stores; alerts and production records are lost on restart")
		deps.Alerts = repository.NewMemoryAlertRepo()
		deps.Production = repository.NewMemoryProductionRepo()
		deps.Sites = repository.NewMemorySiteRepo()
	}

	if cfg.SitesFile != "" {
		sites, err := repository.NewFileSiteRepo(cfg.SitesFile)
		if err != nil {
			return deps, closers, err
		}
		deps.Sites = sites
	}

	if cfg.RedisAddr != "" {
		redisDB, err := config.InitRedis(cfg)
		if err != nil {
			return deps, closers, err
		}
		closers = append(closers, redisDB)
		deps.CooldownStore = cooldown.NewRedisStore(redisDB.Client, "solar_monitor:cooldowns")
	} else {
		deps.CooldownStore = cooldown.NewMemoryStore()
	}

	if cfg.InfluxURL != "" {
		influxDB, err := config.InitInflux(cfg)
		if err != nil {
			return deps, closers, err
		}
		closers = append(closers, influxDB)
		deps.Archive = repository.NewInfluxTelemetryRepo(influxDB)
	}

	return deps, closers, nil
}

func setupRouter(h *api.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(api.Logger())
	r.Use(api.CORS())
	r.Use(metrics.HTTPMiddleware())

	// API routes
	api.SetupRoutes(r, h)

	return r
}
