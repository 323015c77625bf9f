package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Open-PiliPili/EmbyStream-sub000/api"
	"github.com/Open-PiliPili/EmbyStream-sub000/config"
	"github.com/Open-PiliPili/EmbyStream-sub000/emby"
	"github.com/Open-PiliPili/EmbyStream-sub000/hls"
)

const (
	// hlsIdle is how long an HLS session survives without a segment
	// request before its encoder is killed and its spool removed.
	hlsIdle = 30 * time.Minute

	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (defaults to $EMBYSTREAM_CONFIG, then config.toml)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	path := *configPath
	if path == "" {
		path = os.Getenv("EMBYSTREAM_CONFIG")
	}
	if path == "" {
		path = "config.toml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// The item→source map is shared between gateways so a dual deployment
	// resolves HLS segments without a second sign verification.
	sources := hls.NewSources(cfg.SignTTL())
	defer sources.Stop()

	var servers []*http.Server

	if cfg.RunsFrontend() {
		client := emby.NewClient(cfg.Emby.BaseURL)

		// The catalog monitor lets resolves fail fast while the catalog
		// is down and surfaces its state on /health.
		health := emby.NewHealthChecker(client, 0)
		health.Start(context.Background())
		defer health.Stop()

		h, stop := api.NewFrontend(cfg, emby.Guard(client, health), health, sources)
		defer stop()
		servers = append(servers, newServer(cfg.Frontend.ListenPort, h))
	}

	var manager *hls.Manager
	if cfg.RunsBackend() {
		manager = hls.NewManager(cfg.Backend.TranscodeRoot, cfg.Backend.FFmpegPath,
			cfg.Backend.FFprobePath, cfg.Backend.SegmentSeconds, hlsIdle)
		h, stop := api.NewBackend(cfg, manager, sources)
		defer stop()
		servers = append(servers, newServer(cfg.Backend.ListenPort, h))
	}

	for _, srv := range servers {
		go func() {
			slog.Info("gateway listening", "addr", srv.Addr, "mode", cfg.General.StreamMode)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "addr", srv.Addr, "error", err)
				os.Exit(1)
			}
		}()
	}

	// Wait for interrupt or SIGTERM (e.g. from container orchestration).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "addr", srv.Addr, "error", err)
		}
	}

	// After the listeners drain: kill any running encoders and clear
	// their spools.
	if manager != nil {
		manager.Close()
	}
	slog.Info("server stopped")
}

func newServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
}
