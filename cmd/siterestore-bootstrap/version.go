package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slimrmm/siterestore/pkg/version"
)

var (
	versionJSON  bool
	versionShort bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), info.Short())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the version only")
	rootCmd.AddCommand(versionCmd)
}
