package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/buddy/internal/app"
	"github.com/ent0n29/buddy/internal/config"
	"github.com/ent0n29/buddy/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Long:  `Loads configuration from the environment and serves the companion API until SIGINT or SIGTERM.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "bind address (overrides APP_BIND_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serveAddr != "" {
		cfg.BindAddr = serveAddr
	}

	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Sync()

	built, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()
	logger.Info("collaborators resolved", "detail", built.Detail, "classifier_rules", built.RulesFrom)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err, ok := <-listenErr:
		if ok {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}
