package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"classpulse/internal/app"
	"classpulse/internal/config"
	"classpulse/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			log := logger.Named("serve")

			if cfg.Auth.JWTSecret == config.DevelopmentSecret {
				log.Warn(cmd.Context(), "Using the built-in development JWT secret; set auth.jwt_secret in production")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			application, err := app.NewApplication(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			// Setup signal handling for graceful shutdown
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := application.Start(ctx); err != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer shutdownCancel()
				_ = application.Stop(shutdownCtx)
				return fmt.Errorf("application error: %w", err)
			}

			sig := <-sigs
			log.Info(ctx, "Received signal, shutting down gracefully", logger.String("signal", sig.String()))

			// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer shutdownCancel()

			if err := application.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			return nil
		},
	}
}
