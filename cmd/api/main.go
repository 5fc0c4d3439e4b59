package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaidashi/relay-freight-api/internal/api"
	"github.com/vaidashi/relay-freight-api/internal/config"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel)
	defer logger.Sync(l)

	l.Info("Starting API server...", "env", cfg.Env)

	app, err := api.NewApp(cfg, l)

	if err != nil {
		l.Error("Failed to initialize application", "error", err)
		logger.Sync(l)
		os.Exit(1)
	}

	// Start the server in a goroutine
	go func() {
		if err := app.Start(); err != nil && err != http.ErrServerClosed {
			l.Error("Failed to start server", "error", err)
			logger.Sync(l)
			os.Exit(1)
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}
}
