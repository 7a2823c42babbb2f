package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"brokerage/config"
	"brokerage/edgeproxy"
	"brokerage/logging"
)

func main() {
	cfg, err := config.LoadEdge()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logFile, err := logging.Setup(logging.Options{Path: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Warn().Err(err).Msg("Could not set up file logging")
	}
	defer logFile.Close()

	handler, err := edgeproxy.New(edgeproxy.Config{
		OriginURL:   cfg.Edge.OriginURL,
		ImagePrefix: cfg.Edge.ImagePrefix,
		ImageMaxAge: cfg.Edge.ImageMaxAge,
	}, http.DefaultTransport)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build proxy")
	}

	srv := &http.Server{
		Addr:              cfg.Edge.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("origin", cfg.Edge.OriginURL).Msg("Edge proxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Edge proxy failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Edge proxy shutdown")
	}
}
