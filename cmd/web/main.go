package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/broadcast"
	"mediaforge/internal/config"
	"mediaforge/internal/gate"
	"mediaforge/internal/handlers"
	"mediaforge/internal/images"
	"mediaforge/internal/models"
	"mediaforge/internal/pdfops"
	"mediaforge/internal/registry"
	"mediaforge/internal/retention"
	"mediaforge/internal/runner"
	"mediaforge/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	for _, dir := range []string{cfg.UploadsDir, cfg.OutputsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("could not create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirror := store.New(ctx, logger, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RetentionCeiling)
	defer mirror.Close()

	conversions := registry.New(func(j models.ConversionJob) { mirror.Save(j.ID, j) })
	downloads := registry.New(func(j models.DownloadJob) { mirror.Save(j.ID, j) })

	ffmpeg := runner.NewFFmpeg(logger)
	ffmpeg.FFmpegBin = cfg.FFmpegBin
	ffmpeg.FFprobeBin = cfg.FFprobeBin

	ytdlp := runner.NewYtDlp(logger)
	ytdlp.Bin = cfg.YtDlpBin

	imageSvc := images.NewService(logger)
	imageSvc.PythonBin = cfg.PythonBin
	imageSvc.RemoveBGScript = cfg.RemoveBGScript

	tracker := retention.New(logger, []string{cfg.OutputsDir, cfg.UploadsDir}, cfg.DownloadGrace, cfg.RetentionCeiling)
	tracker.Start(ctx, cfg.SweepInterval)

	app := handlers.NewApp(logger, cfg, handlers.Services{
		Conversions: conversions,
		Downloads:   downloads,
		Gate:        gate.New(cfg.MaxConcurrentDownloads),
		Hub:         broadcast.NewHub(logger),
		FFmpeg:      ffmpeg,
		YtDlp:       ytdlp,
		Images:      imageSvc,
		PDFs:        pdfops.NewService(logger),
		Tracker:     tracker,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	logger.Info("server stopped")
}
