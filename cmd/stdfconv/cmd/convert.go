/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/stdfconv/pkg/codec"
	"github.com/ssargent/stdfconv/pkg/config"
	"github.com/ssargent/stdfconv/pkg/convert"
	"github.com/ssargent/stdfconv/pkg/di"
)

// errJobsFailed is returned after the failure summary has been printed
var errJobsFailed = errors.New("one or more conversions failed")

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [csv files...]",
	Short: "Convert CSV files to STDF",
	Long: `Convert one CSV file, or a batch of them, to STDF v4.

A single file goes from --input to --output. With --inputs (or positional
arguments) every file is written to --output-dir as <stem>.stdf, several at a
time when --workers is above one. A failed file never leaves a partial STDF
file behind; the other files still convert.

Examples:
  stdfconv convert --input lot1.csv --output lot1.stdf
  stdfconv convert --inputs a.csv b.csv --output-dir out --workers 4
  stdfconv convert --meta meta.json --head 2 --site 3 --gzip lot1.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := runtimeFrom(cmd)
		opts, err := conversionFlags(cmd, rt.cfg)
		if err != nil {
			return err
		}

		inputs, _ := cmd.Flags().GetStringSlice("inputs")
		inputs = append(inputs, args...)
		var jobs []convert.Job
		if len(inputs) > 0 {
			jobs, err = convert.PlanJobs(inputs, opts.outputDir, "", opts.gzip)
		} else {
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			jobs, err = convert.PlanJobs([]string{input}, "", output, false)
			if err == nil && opts.gzip {
				jobs[0].Output = ensureGzipExt(jobs[0].Output)
			}
		}
		if err != nil {
			return err
		}

		conv, _, closeLedger, err := newConverter(rt, opts)
		if err != nil {
			return err
		}
		defer closeLedger()

		report := convert.RunBatch(cmd.Context(), conv, jobs, opts.workers)

		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		for _, o := range report.Outcomes {
			if o.Err != nil {
				fmt.Fprintf(errOut, "[FAIL] %s: %v\n", o.Job.Input, o.Err)
				continue
			}
			fmt.Fprintf(out, "[OK] %s -> %s\n", o.Job.Input, o.Job.Output)
		}

		textfile, _ := cmd.Flags().GetString("metrics-textfile")
		if textfile == "" {
			textfile = rt.cfg.Paths.MetricsTextfile
		}
		if textfile != "" {
			if err := container.Metrics().WriteTextfile(textfile); err != nil {
				rt.log.Warn("failed to write metrics textfile", "error", err)
			}
		}

		if failures := report.Failures(); len(failures) > 0 {
			fmt.Fprintf(errOut, "Completed with %d error(s).\n", len(failures))
			for _, o := range failures {
				fmt.Fprintf(errOut, "  - %s failed: %v\n", o.Job.Input, o.Err)
			}
			return errJobsFailed
		}
		return nil
	},
}

// conversionOptions are the conversion settings after flags override config
type conversionOptions struct {
	head, site int
	meta       string
	gzip       bool
	workers    int
	policy     codec.LossPolicy
	label      string
	outputDir  string
	noLedger   bool
}

func conversionFlags(cmd *cobra.Command, cfg *config.Config) (conversionOptions, error) {
	c := cfg.Conversion
	opts := conversionOptions{
		head:      c.HeadNumber,
		site:      c.SiteNumber,
		meta:      c.MetaFile,
		gzip:      c.Gzip,
		workers:   c.Workers,
		label:     c.Label,
		outputDir: cfg.Paths.OutputDir,
	}
	policy := c.LossPolicy

	flags := cmd.Flags()
	if flags.Changed("head") {
		opts.head, _ = flags.GetInt("head")
	}
	if flags.Changed("site") {
		opts.site, _ = flags.GetInt("site")
	}
	if flags.Changed("meta") {
		opts.meta, _ = flags.GetString("meta")
	}
	if flags.Changed("gzip") {
		opts.gzip, _ = flags.GetBool("gzip")
	}
	if flags.Changed("workers") {
		opts.workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("loss-policy") {
		policy, _ = flags.GetString("loss-policy")
	}
	if flags.Changed("label") {
		opts.label, _ = flags.GetString("label")
	}
	if flags.Changed("output-dir") {
		opts.outputDir, _ = flags.GetString("output-dir")
	}
	opts.noLedger, _ = flags.GetBool("no-ledger")

	var err error
	if opts.policy, err = codec.ParseLossPolicy(policy); err != nil {
		return opts, err
	}
	if opts.head < 0 || opts.head > 255 || opts.site < 0 || opts.site > 255 {
		return opts, errors.Newf("head %d and site %d must be in 0-255", opts.head, opts.site)
	}
	return opts, nil
}

// newConverter builds a converter from opts. The ledger is nil when it was
// disabled or could not be opened; the returned func closes it.
func newConverter(rt *runtime, opts conversionOptions) (*convert.Converter, di.JobLedger, func(), error) {
	meta, err := convert.LoadMetaConfig(opts.meta, opts.head, opts.site)
	if err != nil {
		return nil, nil, nil, err
	}

	convOpts := []convert.Option{
		convert.WithLogger(rt.log),
		convert.WithMetrics(container.Metrics()),
		convert.WithLossPolicy(opts.policy),
		convert.WithCompression(opts.gzip),
		convert.WithFsync(rt.cfg.Conversion.Fsync),
		convert.WithLabel(opts.label),
	}

	var jobs di.JobLedger
	closer := func() {}
	if !opts.noLedger && rt.cfg.Paths.LedgerDir != "" {
		l, err := container.OpenLedger(rt.cfg.Paths.LedgerDir)
		if err != nil {
			rt.log.Warn("job ledger unavailable, history will not be recorded", "dir", rt.cfg.Paths.LedgerDir, "error", err)
		} else {
			jobs = l
			convOpts = append(convOpts, convert.WithRecorder(l))
			closer = func() {
				if err := l.Close(); err != nil {
					rt.log.Warn("failed to close job ledger", "error", err)
				}
			}
		}
	}

	return convert.NewConverter(meta, convOpts...), jobs, closer, nil
}

func ensureGzipExt(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return path
	}
	return path + ".gz"
}

// addConversionFlags registers the flags shared by convert and watch
func addConversionFlags(cmd *cobra.Command) {
	cmd.Flags().String("meta", "", "JSON file with MIR overrides and ATR notes")
	cmd.Flags().Int("head", 1, "Test head number")
	cmd.Flags().Int("site", 1, "Site number")
	cmd.Flags().Bool("gzip", false, "Write gzip compressed .stdf.gz files")
	cmd.Flags().String("output-dir", ".", "Destination directory for generated STDF files")
	cmd.Flags().String("loss-policy", "silent", "Report truncated text fields: silent, warn, strict")
	cmd.Flags().String("label", "CLI", "Invoker name recorded in the ATR")
	cmd.Flags().Bool("no-ledger", false, "Do not record jobs in the ledger")
}

func init() {
	rootCmd.AddCommand(convertCmd)

	addConversionFlags(convertCmd)
	convertCmd.Flags().String("input", "input.csv", "Path to the CSV input file")
	convertCmd.Flags().String("output", "out.stdf", "Path to the STDF output file")
	convertCmd.Flags().StringSlice("inputs", nil, "CSV files to batch convert (overrides --input/--output)")
	convertCmd.Flags().Int("workers", 4, "Number of files converted in parallel")
	convertCmd.Flags().String("metrics-textfile", "", "Write Prometheus metrics to this file after the batch")
}
