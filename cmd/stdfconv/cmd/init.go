/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/stdfconv/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with the default settings.

The file goes to --config, or ~/.config/stdfconv/config.yaml when no path
is given. An existing file is kept unless --force is set.

Examples:
  stdfconv init
  stdfconv init --config ./stdfconv.yaml --force`,
	// The root hook would try to load the file this command is about to create
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		force, _ := cmd.Flags().GetBool("force")
		out := cmd.OutOrStdout()

		if config.ConfigExists(configPath) && !force {
			fmt.Fprintf(out, "Config already exists at %s. Use --force to overwrite.\n", configPath)
			return nil
		}

		if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote default config to %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}
