package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRecoverCmd processes session directories left behind by a crash
func NewRecoverCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Process recordings interrupted by an abnormal shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := deps.App.Coordinator.Recover(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d session(s)\n", n)
			return nil
		},
	}
}
