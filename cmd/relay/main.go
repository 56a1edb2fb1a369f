package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omochice/supportline/internal/config"
	"github.com/omochice/supportline/internal/observability"
	"github.com/omochice/supportline/internal/relay"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", cfg.Addr, "Address to listen on for WebSocket and SSE clients (e.g., :8080)")
	secret := flag.String("jwt-secret", cfg.JWTSecret, "HS256 secret for client tokens; empty disables auth")
	flag.Parse()

	log := observability.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	observability.SetLogger(log)

	srv := relay.New(relay.Config{Addr: *addr, JWTSecret: *secret, Logger: log})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting relay", "addr", *addr)
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Error("relay error", "err", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			log.Error("shutdown failed", "err", err)
		}
	}

	log.Info("relay stopped")
}
