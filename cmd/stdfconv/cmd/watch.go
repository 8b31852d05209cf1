/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ssargent/stdfconv/pkg/api"
	"github.com/ssargent/stdfconv/pkg/watch"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Convert CSV files as they arrive in an inbox directory",
	Long: `Watch an inbox directory and convert every CSV file written to it.

Files are converted once writes to them have stopped for --debounce. A cron
schedule given with --sweep rescans the inbox to catch missed events. Files
whose content was already converted are skipped. With --listen a status
server exposes /metrics, /healthz and /api/v1/jobs.

Examples:
  stdfconv watch --inbox /data/inbox --output-dir /data/stdf
  stdfconv watch --inbox in --output-dir out --sweep "@every 5m" --listen :9102`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := runtimeFrom(cmd)
		opts, err := conversionFlags(cmd, rt.cfg)
		if err != nil {
			return err
		}

		wc := rt.cfg.Watch
		flags := cmd.Flags()
		if flags.Changed("inbox") {
			wc.Inbox, _ = flags.GetString("inbox")
		}
		if flags.Changed("sweep") {
			wc.Sweep, _ = flags.GetString("sweep")
		}
		if flags.Changed("listen") {
			wc.Listen, _ = flags.GetString("listen")
		}
		if flags.Changed("api-key") {
			wc.APIKey, _ = flags.GetString("api-key")
		}
		if flags.Changed("debounce") {
			wc.Debounce, _ = flags.GetDuration("debounce")
		}

		conv, jobs, closeLedger, err := newConverter(rt, opts)
		if err != nil {
			return err
		}
		defer closeLedger()

		watchOpts := []watch.Option{
			watch.WithLogger(rt.log),
			watch.WithMetrics(container.Metrics()),
			watch.WithNotify(func(e watch.Event) {
				switch {
				case e.Skipped:
				case e.Err != nil:
					fmt.Fprintf(cmd.ErrOrStderr(), "[FAIL] %s: %v\n", e.Path, e.Err)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "[OK] %s -> %s\n", e.Path, e.Result.Output)
				}
			}),
		}

		var store api.JobStore
		if jobs != nil {
			watchOpts = append(watchOpts, watch.WithHistory(jobs))
			store = jobs
		}

		w, err := watch.New(watch.Config{
			Inbox:     wc.Inbox,
			OutputDir: opts.outputDir,
			Debounce:  wc.Debounce,
			Sweep:     wc.Sweep,
			Compress:  opts.gzip,
		}, conv, watchOpts...)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return w.Run(ctx) })
		if wc.Listen != "" {
			server := api.NewServer(store, api.ServerConfig{Addr: wc.Listen, APIKey: wc.APIKey}, container.Metrics(), rt.log)
			g.Go(func() error { return server.ListenAndServe(ctx) })
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addConversionFlags(watchCmd)
	watchCmd.Flags().String("inbox", "", "Directory to watch for CSV files")
	watchCmd.Flags().String("sweep", "", `Cron schedule for inbox rescans, e.g. "@every 5m"`)
	watchCmd.Flags().String("listen", "", "Address for the status server, e.g. :9102")
	watchCmd.Flags().String("api-key", "", "Require this X-API-Key on /api/v1 requests")
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a changed file is converted")
}
