package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/daemon"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the usage worker daemon on a unix socket",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			socketPath, err := opts.resolveSocketPath()
			if err != nil {
				return err
			}
			return daemon.RunServer(daemon.Config{
				SocketPath: socketPath,
				Catalog:    opts.cfg.Catalog(),
				Verbose:    opts.verbose,
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the usage daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := opts.resolveSocketPath()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()

			health, err := daemon.NewClient(socketPath).HealthInfo(ctx)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "not running on %s: %v\n", socketPath, err)
				return nil
			}
			state := "current"
			if !daemon.HealthCurrent(health) {
				state = "out of date"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s version=%s api=%s worker=%s queued=%d (%s)\n",
				health.Status, daemon.HealthVersion(health), health.APIVersion, health.WorkerID, health.Queued, state)
			return nil
		},
	})
	return cmd
}
