// Command crm-proxy serves the paginated CRM company list with server-side
// caching and a per-caller cooldown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/crm-company-cache/internal/config"
	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Debug:   cfg.Log.Debug,
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "crm-proxy",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer proxy.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           proxy.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", version).
			Str("cache_backend", cfg.Cache.Backend).
			Str("rate_limit_backend", cfg.RateLimit.Backend).
			Bool("default_endpoint", cfg.Remote.WebhookURL != "").
			Msg("crm-proxy listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
