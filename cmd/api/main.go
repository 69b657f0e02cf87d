package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-transcripts-go/internal/api"
	"voice-transcripts-go/internal/bootstrap"
	"voice-transcripts-go/internal/config"
	"voice-transcripts-go/internal/logger"
)

func main() {
	log := logger.New()
	log.WithField("service", "voice-transcripts-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	app, err := bootstrap.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise")
	}
	app.StartWorkers()

	handler := api.New(api.Options{
		Tasks:          app.Pipeline,
		Queue:          app.Queue,
		Events:         app.Events,
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}).Handler()

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		_ = srv.Close()
	}
	// waits for queued tasks to drain
	if err := app.Close(); err != nil {
		log.WithError(err).Error("closing store failed")
	}
	log.Info("server stopped")
}
