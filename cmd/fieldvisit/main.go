package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dwisurya/fieldvisit/internal/api"
	"github.com/dwisurya/fieldvisit/internal/audit"
	"github.com/dwisurya/fieldvisit/internal/capture"
	"github.com/dwisurya/fieldvisit/internal/compress"
	"github.com/dwisurya/fieldvisit/internal/config"
	"github.com/dwisurya/fieldvisit/internal/db"
	"github.com/dwisurya/fieldvisit/internal/device"
	"github.com/dwisurya/fieldvisit/internal/logging"
	"github.com/dwisurya/fieldvisit/internal/outletcache"
	"github.com/dwisurya/fieldvisit/internal/store"
	"github.com/dwisurya/fieldvisit/internal/submit"
	"github.com/dwisurya/fieldvisit/internal/watermark"
	"github.com/dwisurya/fieldvisit/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, cleanup, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	outletStore := store.NewOutletStore(database)
	outlets := outletcache.New(outletStore, cfg.OutletCacheSize, cfg.OutletCacheTTL, logging.Component(logger, "outletcache"))

	client := api.NewClient(cfg.VisitAPIURL, cfg.VisitAPIKey, logging.Component(logger, "api"))
	coordinator := submit.NewCoordinator(client, logging.Component(logger, "submit"))

	bridge := device.NewBridge(cfg.DeviceBridgeURL, logging.Component(logger, "device"))
	overlay := device.NewOverlayBridge(bridge)

	photoPolicy := compress.DefaultPolicy()
	photoPolicy.InitialQuality = cfg.PhotoQuality
	photoPolicy.TargetWidth = cfg.PhotoTargetWidth
	compressor := compress.NewCompressor(device.JPEGEncoder{}, photoPolicy, logging.Component(logger, "compress"))

	compositor := watermark.NewCompositor(overlay, overlay, logging.Component(logger, "watermark"))

	pipeline := capture.NewPipeline(capture.Deps{
		Outlets:    outlets,
		Visits:     client,
		Camera:     bridge,
		Locator:    bridge,
		Compressor: compressor,
		Compositor: compositor,
		Submitter:  coordinator,
		Auditor:    newAuditor(cfg, logger),
		Logger:     logging.Component(logger, "capture"),
	}, capture.Config{
		PhotoBudgetBytes: cfg.PhotoBudgetBytes,
		CameraGrace:      cfg.CameraGrace,
		CheckoutGeofence: cfg.CheckoutGeofence,
	})

	// No transcoder ships with the bridge yet, so the outlet media endpoint
	// answers 503 until one is wired in here.
	logger.Info("video processing disabled", "reason", "no encoder configured")

	server := web.NewServer(cfg.ListenAddr, web.Options{
		Pipeline: pipeline,
		Outlets:  outlets,
		Editor:   outletStore,
		VideoPolicy: compress.VideoPolicy{
			BudgetBytes:     cfg.VideoBudgetBytes,
			RawCeilingBytes: cfg.VideoRawCeiling,
			Preset:          "medium",
			Quality:         0.6,
		},
		RateRPS:   cfg.RateLimitRPS,
		RateBurst: cfg.RateLimitBurst,
		Logger:    logging.Component(logger, "web"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down server", "error", err)
		}
	}()

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}
}

func newAuditor(cfg *config.Config, logger *slog.Logger) capture.Auditor {
	switch cfg.AuditBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			logger.Error("CLAUDE_API_KEY is required when AUDIT_BACKEND=claude")
			return nil
		}
		logger.Info("photo audit enabled", "model", cfg.ClaudeModel)
		return audit.NewClaudeAuditor(cfg.ClaudeAPIKey, cfg.ClaudeModel, logging.Component(logger, "audit"))
	default:
		return nil
	}
}
