package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/api/http"
	cfgpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/config"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/fetch"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/ffmpeg"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/queue"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/remux"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/resolve"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/storage"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/worker"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	logger := slog.Default()
	logger.Info("configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 0} // per-job contexts bound transfers

	store := queue.NewStore(cfg.StateFile, cfg.MarkerFile, logger)
	fetcher := fetch.NewClient(httpClient, cfg.StreamURL, cfg.ContentBaseURL, cfg.APIBaseURL, logger)
	fileStorage := storage.NewFileStorage(cfg.DownloadDir)
	credentials := resolve.NewCredentialHolder()
	resolver := resolve.NewResolver(httpClient, cfg.APIBaseURL, cfg.ResolveConcurrency, logger)

	// A fresh runner per job mirrors the engine teardown between downloads.
	newRunner := func() ffmpeg.Runner {
		return ffmpeg.NewExecRunner(cfg.FFmpegPath, cfg.CommandTailBytes)
	}
	engine := remux.NewEngine(newRunner, ffmpeg.NewBuilder(cfg.DecodeCheckSecs), cfg.WorkDir, logger)

	pipeline := worker.NewPipeline(fetcher, engine, fileStorage, credentials.Get, cfg.SizeProbeRetries, logger)
	orchestrator := queue.NewOrchestrator(store, pipeline, logger)

	router := h.NewRouter(ctx, orchestrator, resolver, store, credentials, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}
}
