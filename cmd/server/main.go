package main

import (
	"fmt"
	"os"

	"github.com/lexiqai/voice-scribe/internal/app"
	"github.com/lexiqai/voice-scribe/internal/cli"
	"github.com/lexiqai/voice-scribe/internal/config"
	"github.com/lexiqai/voice-scribe/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Use fmt for errors before the logger is initialized
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	return cli.NewRootCmd(&cli.Dependencies{
		App:    application,
		Logger: logger,
	}).Execute()
}
