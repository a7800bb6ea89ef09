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
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/celltools/unetpx/internal/config"
	"github.com/celltools/unetpx/internal/env"
	"github.com/celltools/unetpx/internal/logger"
	"github.com/celltools/unetpx/internal/pixel"
	httpserver "github.com/celltools/unetpx/internal/server/http"
	"github.com/celltools/unetpx/internal/service"
)

// segmentation holds the live service and swaps it atomically when the
// config is reloaded, so in-flight requests keep the engine they started
// with.
type segmentation struct {
	current atomic.Pointer[service.Segmentation]
}

func (s *segmentation) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	return s.current.Load().Classify(ctx, img)
}

func (s *segmentation) swap(next *service.Segmentation) {
	prev := s.current.Swap(next)
	if prev == nil {
		return
	}

	if err := prev.Close(); err != nil {
		slog.Warn("Failed to close previous engine", "error", err)
	}
}

func main() {
	var (
		flagHTTPPort   = flag.Int("http-port", 0, "HTTP port to listen on (overrides config)")
		flagConfigPath = flag.String("config", path.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
	)
	flag.Parse()

	environment := env.FromEnv()

	slog.SetDefault(
		logger.New(environment,
			logger.WithLogToFile(true),
			logger.WithLogFile("logs/unetpx.log"),
		),
	)

	svc := &segmentation{}

	watcher, err := config.NewWatcher(*flagConfigPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}

		next, err := service.NewFromConfig(context.Background(), cfg)
		if err != nil {
			slog.Error("Failed to rebuild engine from config", "error", err)
			return
		}

		svc.swap(next)
		slog.Info("Engine rebuilt from config", "provider", cfg.Engine.Provider)
	})
	if err != nil {
		slog.Error("Failed to create config watcher", "error", err)
		os.Exit(1)
	}

	cfg := watcher.Snapshot()

	slog.SetDefault(
		logger.New(environment,
			logger.WithLogToFile(true),
			logger.WithLogFile("logs/unetpx.log"),
			logger.WithLevel(cfg.Log.Level),
		),
	)

	initial, err := service.NewFromConfig(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}
	svc.current.Store(initial)
	defer func() {
		if s := svc.current.Load(); s != nil {
			s.Close()
		}
	}()

	slog.Info("Config loaded successfully", "config", *flagConfigPath, "provider", cfg.Engine.Provider)

	port := cfg.Server.HTTPPort
	if *flagHTTPPort != 0 {
		port = *flagHTTPPort
	}

	mux := http.NewServeMux()
	httpserver.NewHandler(svc).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
