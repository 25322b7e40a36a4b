package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/hookbot/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// serve runs the webhook HTTP server until ctx is done.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	timeout := time.Duration(a.cfg.RequestTimeoutSeconds) * time.Second
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.logger.Info("hookbot serving",
		zap.String("addr", ln.Addr().String()),
		zap.String("updates_path", "/"+webhook.SecretPath(a.cfg.TelegramToken)+"/updates"),
		zap.String("provider", a.cfg.ModelProvider),
		zap.String("store", a.cfg.Store),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("hookbot shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-errCh
	return nil
}
