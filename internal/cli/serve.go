package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-scribe/internal/inbox"
	"github.com/lexiqai/voice-scribe/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCmd runs the HTTP control surface, the gRPC health server and the optional inbox
func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), deps)
		},
	}
}

func serve(parent context.Context, deps *Dependencies) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := deps.App.Config
	coord := deps.App.Coordinator
	logger := deps.Logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("port", cfg.Port).
		Str("bridge_url", cfg.BridgeURL).
		Str("stt_provider", cfg.STTProvider).
		Bool("summary_enabled", cfg.SummaryEnabled).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Scribe service starting")

	if cfg.RecoverOnStart {
		go func() {
			n, err := coord.Recover(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Recovery of interrupted sessions failed")
				return
			}
			if n > 0 {
				logger.Info().Int("sessions", n).Msg("Recovered interrupted sessions")
			}
		}()
	}

	inboxDone := make(chan struct{})
	if cfg.InboxDir != "" {
		w, err := inbox.New(inbox.Config{Dir: cfg.InboxDir, MaxConcurrent: cfg.ProcessConcurrency}, func(ctx context.Context, path string) error {
			_, err := coord.ProcessFile(ctx, path, "")
			return err
		}, logger)
		if err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		go func() {
			defer close(inboxDone)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Inbox watcher stopped")
			}
		}()
	} else {
		close(inboxDone)
	}

	var grpcHealth *server.GRPCHealth
	if cfg.GRPCHealthPort != "" {
		grpcHealth = server.NewGRPCHealth(logger)
		go func() {
			if err := grpcHealth.Serve(":" + cfg.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("gRPC health server failed")
			}
		}()
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewHandler(coord, server.Options{
			Checks:         deps.App.Checks(),
			MetricsEnabled: cfg.MetricsEnabled,
		}, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("Server failed")
		stop()
	}

	logger.Info().Msg("Shutting down server...")
	if grpcHealth != nil {
		grpcHealth.Draining()
	}

	httpCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancelClose()
	if err := coord.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("Sessions still processing at shutdown were interrupted and left for recovery")
	}
	<-inboxDone

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	logger.Info().Msg("Server exited gracefully")
	return runErr
}
