package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/docguard/internal/infra/httpserver"
	"github.com/bryanwahyu/docguard/internal/middleware"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := httpserver.NewRouter(httpserver.Options{
		Service:        a.svc,
		Logger:         a.log.Named("http"),
		Metrics:        middleware.NewMetrics(),
		HealthCheckers: a.healthCheckers(),
		APIKeys:        cfg.Auth.APIKeys,
		RateLimiter:    middleware.NewRateLimiter(ctx, cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", addr), zap.String("version", getVersion()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// graceful shutdown
	a.log.Info("shutting down server...")
	ctx2, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		a.log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
