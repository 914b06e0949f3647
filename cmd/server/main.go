package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/api"
	"github.com/yourusername/wallcache-go/api/handlers"
	"github.com/yourusername/wallcache-go/internal/app"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

var configPath = flag.String("config", "", "Path to config file (default: search standard locations)")

func main() {
	flag.Parse()

	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		log = logger.NewDefault()
		log.Warn("Configured logger unavailable, using stdout",
			zap.String("output", config.Logging.OutputPath),
			zap.Error(err))
	}
	defer log.Sync()

	var multiLog *logger.MultiLogger
	if config.Logging.LogsDir != "" {
		multiLog, err = logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Logging.LogsDir,
		})
		if err != nil {
			log.Fatal("Failed to initialize categorized logs", zap.Error(err))
		}
		defer multiLog.Close()
	}

	log.Info("Starting wallcache server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("storage", config.Storage.BaseDir))

	rt, err := app.NewRuntime(config, log, multiLog)
	if err != nil {
		log.Fatal("Failed to initialize runtime", zap.Error(err))
	}
	defer rt.Close()

	// Load eagerly so an unusable index is rebuilt before the first request
	if idx, err := rt.Index.Load(); err != nil {
		log.Warn("Index not available", zap.Error(err))
	} else {
		log.Info("Index loaded",
			zap.Int("entries", idx.Len()),
			zap.Int("diagnostics", len(rt.Index.Diagnostics())))
	}

	router := api.SetupRouter(rt)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
