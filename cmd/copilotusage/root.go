package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/config"
	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/daemon"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
	"github.com/janekbaraniewski/copilotusage/internal/report"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

type rootOptions struct {
	configPath     string
	rangeName      string
	socketPath     string
	useDaemon      bool
	excludeUnknown bool
	verbose        bool
	json           bool
	width          int

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "copilotusage",
		Short:         "Aggregate Copilot usage-metrics exports into adoption, impact and cost reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.ConfigPath(), "path to settings.json")
	flags.StringVarP(&opts.rangeName, "range", "r", "", "date range: all, 7d, 14d or 28d (default from config)")
	flags.StringVar(&opts.socketPath, "socket", "", "send work to the usage daemon listening on this socket")
	flags.BoolVar(&opts.useDaemon, "daemon", false, "use the usage daemon, starting it if needed")
	flags.BoolVar(&opts.excludeUnknown, "exclude-unknown-language", false, "hide the unknown language bucket")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline events to stderr")
	flags.BoolVar(&opts.json, "json", false, "print machine-readable JSON instead of the styled report")
	flags.IntVar(&opts.width, "width", 0, "render width in columns (default from config)")

	root.AddCommand(newReportCommand(opts))
	root.AddCommand(newUserCommand(opts))
	root.AddCommand(newWatchCommand(opts))
	root.AddCommand(newDaemonCommand(opts))
	root.AddCommand(newModelsCommand(opts))
	root.AddCommand(newVersionCommand(opts))
	return root
}

func (o *rootOptions) load() error {
	if o.verbose {
		log.SetOutput(os.Stderr)
	}
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", o.configPath, err)
	}
	o.cfg = cfg
	if o.cfg.Report.ExcludeUnknownLanguage {
		o.excludeUnknown = true
	}
	return nil
}

func (o *rootOptions) dateRange() (core.DateRange, error) {
	if strings.TrimSpace(o.rangeName) == "" {
		return o.cfg.Report.DefaultRange, nil
	}
	return core.ParseDateRange(strings.TrimSpace(o.rangeName))
}

func (o *rootOptions) reportOptions(r core.DateRange, enterprise *string) report.Options {
	width := o.width
	if width <= 0 {
		width = o.cfg.Report.Width
	}
	return report.Options{
		Width:                  width,
		TopUsers:               o.cfg.Report.TopUsers,
		ExcludeUnknownLanguage: o.excludeUnknown,
		Enterprise:             enterprise,
		Range:                  r,
	}
}

// newClient picks the in-process worker unless a daemon was requested.
func (o *rootOptions) newClient(ctx context.Context) (*worker.Client, error) {
	if o.socketPath == "" && !o.useDaemon {
		return worker.NewClient(worker.NewInProcess(o.cfg.Catalog())), nil
	}

	socketPath, err := o.resolveSocketPath()
	if err != nil {
		return nil, err
	}
	if !o.useDaemon {
		return worker.NewClient(daemon.NewSocketTransport(daemon.NewClient(socketPath))), nil
	}
	client, err := daemon.EnsureRunning(ctx, socketPath, o.verbose)
	if err != nil {
		return nil, err
	}
	return worker.NewClient(daemon.NewSocketTransport(client)), nil
}

func (o *rootOptions) resolveSocketPath() (string, error) {
	if o.socketPath != "" {
		return o.socketPath, nil
	}
	return o.cfg.SocketPath()
}

// progressPrinter redraws one status line on stderr while files parse.
func (o *rootOptions) progressPrinter(w io.Writer) (parsers.ProgressFunc, func()) {
	f, ok := w.(*os.File)
	if !ok || o.json || !isatty.IsTerminal(f.Fd()) {
		return nil, func() {}
	}
	onProgress := func(p parsers.Progress) {
		fmt.Fprintf(w, "\r%sparsing %s (%d/%d) %3.0f%%  %d records",
			ansi.EraseEntireLine, p.FileName, p.FileIndex+1, p.FileCount, p.Percent, p.Records)
	}
	done := func() {
		fmt.Fprint(w, "\r"+ansi.EraseEntireLine)
	}
	return onProgress, done
}

func warnFileErrors(w io.Writer, errs []parsers.FileError) {
	for _, fe := range errs {
		fmt.Fprintf(w, "warning: %s: %s\n", fe.Name, fe.Error)
	}
}
