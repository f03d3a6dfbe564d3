package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/metrics"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
	"github.com/janekbaraniewski/copilotusage/internal/report"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

func newReportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report <file|dir>...",
		Short: "Parse usage exports and print the aggregated report",
		Long:  "Parse .json/.ndjson usage exports (optionally .gz or .zst compressed) and print adoption, impact, model and cost views.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			res, r, err := opts.parseAndAggregate(ctx, cmd, args, func(*worker.Client) error { return nil })
			if err != nil {
				return err
			}
			if opts.json {
				return report.JSON(cmd.OutOrStdout(), res)
			}
			return report.Render(cmd.OutOrStdout(), res.Result, opts.reportOptions(r, res.EnterpriseName))
		},
	}
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user <user-id> <file|dir>...",
		Short: "Show the per-user drill-down for one user id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var details metrics.UserDetails
			res, r, err := opts.parseAndAggregate(ctx, cmd, args[1:], func(client *worker.Client) error {
				d, detailsErr := client.UserDetails(ctx, userID)
				if detailsErr != nil {
					return detailsErr
				}
				details = d
				return nil
			})
			if err != nil {
				return err
			}
			if opts.json {
				return report.JSON(cmd.OutOrStdout(), details)
			}
			return report.RenderUser(cmd.OutOrStdout(), details, opts.reportOptions(r, res.EnterpriseName))
		},
	}
}

// parseAndAggregate runs one pass over args and hands the still-open client
// to then, for follow-up requests against the same aggregation.
func (o *rootOptions) parseAndAggregate(
	ctx context.Context,
	cmd *cobra.Command,
	args []string,
	then func(*worker.Client) error,
) (worker.ParseAndAggregateResult, core.DateRange, error) {
	r, err := o.dateRange()
	if err != nil {
		return worker.ParseAndAggregateResult{}, r, err
	}
	sources, err := parsers.CollectSources(args)
	if err != nil {
		return worker.ParseAndAggregateResult{}, r, err
	}
	if len(sources) == 0 {
		return worker.ParseAndAggregateResult{}, r, fmt.Errorf("no .json or .ndjson files found in %v", args)
	}

	client, err := o.newClient(ctx)
	if err != nil {
		return worker.ParseAndAggregateResult{}, r, err
	}
	defer client.Close()

	onProgress, clearProgress := o.progressPrinter(cmd.ErrOrStderr())
	res, err := client.ParseAndAggregate(ctx, sources, r, onProgress)
	clearProgress()
	if err != nil {
		return worker.ParseAndAggregateResult{}, r, err
	}
	warnFileErrors(cmd.ErrOrStderr(), res.Errors)

	if err := then(client); err != nil {
		return res, r, err
	}
	return res, r, nil
}
