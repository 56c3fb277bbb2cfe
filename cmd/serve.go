package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"respguard/logger"
	"respguard/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var port string

	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the processing API, Prometheus metrics and health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, root, port)
		},
	}
	command.Flags().StringVar(&port, "port", "", "listen port (overrides PORT and the config file)")
	return command
}

func runServeCommand(cmd *cobra.Command, root *rootOptions, port string) error {
	a, err := newApp(root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	if port == "" {
		port = a.config.Port
	}

	opts := server.Options{
		Processor: a.processor,
		Analyzer:  a.analyzer,
		Breaker:   a.breaker,
		Audit:     a.audit,
		Logger:    a.logger,
		Version:   root.version,
	}
	if a.client != nil {
		opts.Endpoints = a.client.Endpoints()
	}
	handler, err := server.NewHandler(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(logger.ComponentServer, logger.CategoryRequest, "", "respguard started", map[string]interface{}{
			"address":     fmt.Sprintf("http://localhost:%s", port),
			"analyze":     a.analyzer != nil,
			"audit_on":    a.audit != nil,
			"session_id":  a.audit.SessionID(),
			"endpoints":   len(opts.Endpoints),
			"max_events":  a.config.Processing.MaxEvents,
			"max_retries": a.config.Retry.MaxAttempts,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			a.logger.Error(logger.ComponentServer, logger.CategoryError, "", "Server failed", map[string]interface{}{"error": err.Error()})
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info(logger.ComponentServer, logger.CategoryRequest, "", "respguard shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}
