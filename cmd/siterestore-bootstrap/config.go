package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slimrmm/siterestore/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the bootstrap configuration",
}

var configInitForce bool

// configInitCmd writes a configuration file with default values
var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := rootDir
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, config.FileName)
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		if abs, err := filepath.Abs(dir); err == nil {
			cfg.RootDir = abs
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "Set package.archive_name, package.hash and package.secondary_hash before serving.")
		return nil
	},
}

// configViewCmd prints the effective configuration with secrets masked
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Redacted().Marshal()
		if err != nil {
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configViewCmd)
	rootCmd.AddCommand(configCmd)
}
