package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/slimrmm/siterestore/internal/config"
)

var (
	cfgFile string
	rootDir string
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "siterestore-bootstrap",
	Short: "Extract a site backup and start its installer",
	Long: `siterestore-bootstrap checks an uploaded backup archive against the
package it was generated for, asks for the archive password when needed,
extracts the installer folder and hands the session over to the installer.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(v)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <root>/"+config.FileName+")")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "installation directory holding the archive")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-dir", "", "process log directory")

	bindFlagOrPanic("root_dir", "root")
	bindFlagOrPanic("log.debug", "debug")
	bindFlagOrPanic("log.dir", "log-dir")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := v.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func bindLocalFlagOrPanic(cmd *cobra.Command, configKey, flagName string) {
	if err := v.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	config.Configure(v, cfgFile, rootDir)
}

// loadConfig reads the config file and returns the validated configuration.
func loadConfig() (*config.Config, error) {
	if err := config.ReadFile(v, cfgFile != ""); err != nil {
		return nil, err
	}
	return config.Load(v)
}
