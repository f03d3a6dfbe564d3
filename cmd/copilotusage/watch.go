package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/core"
	"github.com/janekbaraniewski/copilotusage/internal/parsers"
	"github.com/janekbaraniewski/copilotusage/internal/report"
	"github.com/janekbaraniewski/copilotusage/internal/worker"
)

const watchDebounce = 300 * time.Millisecond

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-aggregate a directory of exports whenever its files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}
			r, err := opts.dateRange()
			if err != nil {
				return err
			}
			client, err := opts.newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			w := &dirWatcher{
				dir:    args[0],
				client: client,
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
				render: func(out io.Writer, res worker.ParseAndAggregateResult) error {
					if opts.json {
						return report.JSON(out, res)
					}
					return report.Render(out, res.Result, opts.reportOptions(r, res.EnterpriseName))
				},
				dateRange: r,
				clear:     !opts.json,
			}
			return w.run(ctx)
		},
	}
}

type dirWatcher struct {
	dir       string
	client    *worker.Client
	out       io.Writer
	errOut    io.Writer
	render    func(io.Writer, worker.ParseAndAggregateResult) error
	dateRange core.DateRange
	clear     bool

	// outMu keeps one refresh's output from interleaving with another's.
	outMu sync.Mutex
	wg    sync.WaitGroup
}

func (w *dirWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	log.Printf("watch level=info event=watch_start dir=%s", w.dir)

	defer w.wg.Wait()
	w.refresh(ctx)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			log.Printf("watch level=info event=watch_stop reason=context_done")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !parsers.IsSupported(event.Name) || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Printf("watch level=info event=file_changed name=%s op=%s", event.Name, event.Op)
			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch level=warn event=watch_error error=%q", err.Error())

		case <-trigger:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.refresh(ctx)
			}()
		}
	}
}

// refresh re-aggregates the directory. A refresh overtaken by a newer one
// returns worker.ErrSuperseded and draws nothing.
func (w *dirWatcher) refresh(ctx context.Context) {
	sources, err := parsers.CollectSources([]string{w.dir})
	if err == nil && len(sources) == 0 {
		err = fmt.Errorf("no .json or .ndjson files in %s yet", w.dir)
	}
	var res worker.ParseAndAggregateResult
	if err == nil {
		res, err = w.client.ParseAndAggregate(ctx, sources, w.dateRange, nil)
	}
	if errors.Is(err, worker.ErrSuperseded) || ctx.Err() != nil {
		return
	}

	var buf bytes.Buffer
	if w.clear {
		buf.WriteString(ansi.EraseEntireScreen + ansi.CursorHomePosition)
	}
	if err != nil {
		fmt.Fprintf(&buf, "error: %v\n", err)
	} else if renderErr := w.render(&buf, res); renderErr != nil {
		fmt.Fprintf(&buf, "error: %v\n", renderErr)
	}
	fmt.Fprintf(&buf, "\nwatching %s · updated %s\n", w.dir, time.Now().Format(time.TimeOnly))

	w.outMu.Lock()
	defer w.outMu.Unlock()
	_, _ = w.out.Write(buf.Bytes())
	warnFileErrors(w.errOut, res.Errors)
}
