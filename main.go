package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nijaru/duoscribe/config"
	"github.com/nijaru/duoscribe/db"
	"github.com/nijaru/duoscribe/handlers"
	"github.com/nijaru/duoscribe/logger"
	"github.com/nijaru/duoscribe/session"
	"github.com/nijaru/duoscribe/transcription"
	"github.com/nijaru/duoscribe/validation"
	"github.com/sirupsen/logrus"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logr, closer, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()
	logrus.SetOutput(logr.Out)
	logrus.SetFormatter(logr.Formatter)
	logrus.SetLevel(logr.GetLevel())

	store, err := openStore(cfg, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to initialize session store")
	}
	defer store.Close()

	if cfg.Gemini.APIKey == "" {
		logr.Warn("GEMINI_API_KEY is not set; submissions will fail until it is provided")
	}
	client := transcription.NewClient(transcription.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.Timeout,
	}, logr)

	validator := validation.NewValidator(cfg.Limits)
	controller := session.NewController(store, client, validator, cfg.Session.TTL, logr)

	if _, err := controller.Recover(context.Background()); err != nil {
		logr.WithError(err).Fatal("Failed to recover interrupted sessions")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go controller.Start(ctx, cfg.Session.PurgeInterval)

	server := handlers.NewServer(cfg,
		handlers.WithSessions(controller),
		handlers.WithValidator(validator),
		handlers.WithLogger(logr),
		handlers.WithModel(client.Model()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logr.WithError(err).Error("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.WithError(err).Error("Server shutdown error")
	}
	logr.Info("Server stopped")
}

func openStore(cfg *config.Config, logr *logrus.Logger) (session.Store, error) {
	if cfg.Session.Store == "memory" {
		logr.Info("Using in-memory session store")
		return session.NewMemoryStore(), nil
	}
	store, err := db.Open(cfg.Session.DBPath, db.DefaultOptions(), logr)
	if err != nil {
		return nil, err
	}
	return store, nil
}
