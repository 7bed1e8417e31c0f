// Package cli defines the voice-scribe command tree.
package cli

import (
	"github.com/lexiqai/voice-scribe/internal/app"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Dependencies are shared by every command
type Dependencies struct {
	App    *app.App
	Logger zerolog.Logger
}

// NewRootCmd builds the root command; with no subcommand it runs the service
func NewRootCmd(deps *Dependencies) *cobra.Command {
	serve := NewServeCmd(deps)

	rootCmd := &cobra.Command{
		Use:           "voice-scribe",
		Short:         "Record multi-speaker voice sessions and deliver transcripts",
		Long:          "Captures each speaker of a voice session to disk, transcribes every track, summarizes the conversation and delivers the results.",
		RunE:          serve.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = observability.Version

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(NewTranscribeCmd(deps))
	rootCmd.AddCommand(NewRecoverCmd(deps))

	return rootCmd
}
