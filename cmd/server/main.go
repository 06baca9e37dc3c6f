package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roadsight/roadsight/internal/api"
	"github.com/roadsight/roadsight/internal/config"
	"github.com/roadsight/roadsight/internal/db"
	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/evidence"
	"github.com/roadsight/roadsight/internal/logging"
	"github.com/roadsight/roadsight/internal/pipeline"
	"github.com/roadsight/roadsight/internal/report"
	"github.com/roadsight/roadsight/internal/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.VideosDir(), 0755); err != nil {
		return fmt.Errorf("failed to create videos dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting roadsight server",
		"version", config.Version,
		"data_dir", cfg.DataDir,
		"workers", cfg.Workers,
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := report.NewRepository(database.Conn())

	store, err := evidence.NewStore(cfg.ImagesDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize evidence store: %w", err)
	}

	var classes []string
	if cfg.ModelClasses != "" {
		classes = strings.Split(cfg.ModelClasses, ",")
	}
	detector, err := detect.NewDNNDetector(cfg.ModelPath, cfg.ModelConfig, classes, cfg.ConfThreshold, logger)
	if err != nil {
		return fmt.Errorf("failed to load detection model: %w", err)
	}

	hub := ws.NewHub(logging.WithComponent(logger, "ws"))
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	orchestrator := pipeline.New(pipeline.Config{
		Repo:        repo,
		Resolver:    report.NewResolver(repo, cfg.DedupRadiusM, logger),
		Detector:    detector,
		Evidence:    store,
		FrameStride: cfg.FrameStride,
		Workers:     cfg.Workers,
		Logger:      logging.WithComponent(logger, "pipeline"),
		Notify:      hub.Notify,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port,
		Submitter:  orchestrator,
		Repository: repo,
		VideosDir:  cfg.VideosDir(),
		ImagesDir:  store.Dir(),
		Hub:        hub,
		Logger:     logger,
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.DefaultShutdownGrace)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	close(hubStop)

	logger.Info("shutdown complete")
	return nil
}
