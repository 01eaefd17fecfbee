package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	chat "github.com/propromo-software/propromo.chat"
	"github.com/propromo-software/propromo.chat/internal/config"
	"github.com/propromo-software/propromo.chat/internal/constants"
	"github.com/propromo-software/propromo.chat/internal/login"
	"github.com/propromo-software/propromo.chat/internal/monitor"
)

// initializeLogger initializes the structured logger for the process.
func initializeLogger(devMode bool) *slog.Logger {
	level := slog.LevelInfo
	if devMode {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
// The write timeout is generous because WebSocket connections hijack the
// underlying connection and are not bound by it afterwards.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := initializeLogger(cfg.DevMode)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
	defer cancel()

	store, err := monitor.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize monitor store: %w", err)
	}
	defer store.Close()

	verifier := login.NewHTTPVerifier(cfg.LoginAPIURL)

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	if err := chat.Register(engine, cfg, logger, store, verifier); err != nil {
		return fmt.Errorf("register chat service: %w", err)
	}

	server := NewHTTPServer(fmt.Sprintf(":%d", cfg.Port), engine)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()

	if err := chat.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Chat service shutdown incomplete", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
