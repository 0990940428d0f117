// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobportal/videocall/internal/constants"
	"github.com/jobportal/videocall/internal/handlers"
	"github.com/jobportal/videocall/internal/metric"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the call control API and the metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		app, err := newApplication(cfg)
		if err != nil {
			return err
		}

		if cfg.ControlSecret == "" {
			slog.Warn("CALL_CONTROL_SECRET not set, control API only answers heartbeat")
		}

		mux := http.NewServeMux()
		handlers.NewHandler(app).RegisterRoutes(mux)

		skipAuth := map[string]bool{
			"/heartbeat": true,
		}
		srv := &http.Server{
			Handler:      handlers.MetricsMiddleware(handlers.AuthMiddleware(cfg.ControlSecret, skipAuth, mux)),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			slog.Error("failed to listen on TCP", "addr", cfg.ListenAddr, "error", err)
			return err
		}
		slog.Info("control API listening", "addr", cfg.ListenAddr)

		metricsSrv := metric.NewServer()

		srvCh := make(chan error, 1)
		metricsCh := make(chan error, 1)
		go func() {
			srvCh <- srv.Serve(ln)
		}()
		go func() {
			metricsCh <- metricsSrv.Start(cfg.MetricsAddr)
		}()

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err := <-srvCh:
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server error", "error", err)
				return err
			}
		case err := <-metricsCh:
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		app.Shutdown(shutdownCtx)

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}

		slog.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
