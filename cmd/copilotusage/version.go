package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/appupdate"
	"github.com/janekbaraniewski/copilotusage/internal/daemon"
	"github.com/janekbaraniewski/copilotusage/internal/report"
	"github.com/janekbaraniewski/copilotusage/internal/version"
)

func newVersionCommand(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !check {
				fmt.Fprintln(out, "copilotusage "+version.String())
				return nil
			}
			result, err := appupdate.Check(cmd.Context(), appupdate.CheckOptions{
				CurrentVersion: version.Version,
				DaemonVersion:  opts.runningDaemonVersion(cmd.Context()),
			})
			if err != nil {
				return fmt.Errorf("update check: %w", err)
			}
			if opts.json {
				return report.JSON(out, result)
			}
			fmt.Fprintln(out, "copilotusage "+version.String())
			switch {
			case result.CurrentVersion == "":
				fmt.Fprintln(out, "development build, update check skipped")
			case result.UpdateAvailable:
				fmt.Fprintf(out, "%s is available, upgrade with:\n  %s\n", result.LatestVersion, result.UpgradeHint)
			default:
				fmt.Fprintln(out, "up to date")
			}
			if result.DaemonRestart {
				fmt.Fprintf(out, "running daemon is %s, restart it to pick up the new build\n", result.DaemonVersion)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}

// runningDaemonVersion returns the version of a daemon answering on the
// configured socket, or "" when none does.
func (o *rootOptions) runningDaemonVersion(ctx context.Context) string {
	socketPath, err := o.resolveSocketPath()
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	health, err := daemon.NewClient(socketPath).HealthInfo(ctx)
	if err != nil {
		return ""
	}
	return health.DaemonVersion
}
