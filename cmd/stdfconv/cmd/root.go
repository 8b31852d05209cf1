/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/stdfconv/pkg/config"
	"github.com/ssargent/stdfconv/pkg/di"
	"github.com/ssargent/stdfconv/pkg/logger"
)

var container *di.Container

// SetContainer injects the dependency container
func SetContainer(c *di.Container) {
	container = c
}

type runtimeKey struct{}

// runtime is the per invocation state prepared by the root command
type runtime struct {
	cfg        *config.Config
	configPath string
	log        logger.Logger
}

func runtimeFrom(cmd *cobra.Command) *runtime {
	if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
		return rt
	}
	return &runtime{cfg: config.DefaultConfig(), log: logger.Discard()}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stdfconv",
	Short: "Convert test station CSV exports to STDF v4",
	Long: `stdfconv converts the multi-row-header CSV files written by test stations
into STDF v4 binary files (FAR, ATR, MIR, PIR/PTR/PRR per device, MRR).

It can convert files in a batch, watch an inbox directory, dump STDF files
and keep a history of every conversion job.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		explicit := configPath != ""
		if !explicit {
			configPath = config.GetDefaultConfigPath()
		}

		cfg := config.DefaultConfig()
		if explicit || config.ConfigExists(configPath) {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Logging.Format, _ = cmd.Flags().GetString("log-format")
		}
		if cmd.Flags().Changed("ledger-dir") {
			cfg.Paths.LedgerDir, _ = cmd.Flags().GetString("ledger-dir")
		}

		rt := &runtime{
			cfg:        cfg,
			configPath: configPath,
			log:        logger.Open(cmd.ErrOrStderr(), cfg.Logging.Format, cfg.Logging.Level),
		}
		ctx := context.WithValue(cmd.Context(), runtimeKey{}, rt)
		cmd.SetContext(logger.WithContext(ctx, rt.log))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if container == nil {
		container = di.NewContainer()
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errJobsFailed) {
			rootCmd.PrintErrln("Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default is ~/.config/stdfconv/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format: console, text, json")
	rootCmd.PersistentFlags().String("ledger-dir", "", "Job ledger directory (overrides paths.ledger_dir)")
}
