package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lexiqai/voice-scribe/internal/summarize"
	"github.com/spf13/cobra"
)

// NewTranscribeCmd transcribes one audio file and prints the result
func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe and summarize a single audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := deps.App.Coordinator.ProcessFile(ctx, args[0], label)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Transcript)
			if report.Summary.Status == summarize.StatusDone {
				fmt.Fprintf(out, "\n---\n\n%s\n", report.Summary.Text)
			}
			for _, f := range report.Files {
				fmt.Fprintf(os.Stderr, "wrote %s\n", f.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "speaker label for the transcript (defaults to the file name)")
	return cmd
}
