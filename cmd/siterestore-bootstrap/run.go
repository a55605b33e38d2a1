package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slimrmm/siterestore/internal/bootstrap"
	"github.com/slimrmm/siterestore/internal/handoff"
	"github.com/slimrmm/siterestore/internal/logging"
	"github.com/slimrmm/siterestore/internal/metrics"
)

var runOpts struct {
	archiveDir string
	dupFolder  string
	force      bool
	zipMode    string
	password   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract the installer once without serving a page",
	Long: `Run the bootstrap once from the command line, for hosts where the
web server cannot run it. The archive password can also be given in the
SITERESTORE_PASSWORD environment variable.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.archiveDir, "archive-dir", "", "directory holding the archive (default is the root directory)")
	f.StringVar(&runOpts.dupFolder, "dup-folder", "", "rename the installer folder after extraction")
	f.BoolVar(&runOpts.force, "force", false, "extract even if the installer folder is already present")
	f.StringVar(&runOpts.zipMode, "zipmode", "", "extraction engine (auto, ziparchive, shellexec)")
	f.StringVar(&runOpts.password, "password", "", "archive password")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.SetupWithDefaults(cfg.Log.Dir, cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()

	b, closeBackends, err := bootstrap.NewFromConfig(cfg, logger, metrics.Noop{})
	if err != nil {
		return err
	}
	defer closeBackends()

	password := runOpts.password
	if password == "" {
		password = os.Getenv("SITERESTORE_PASSWORD")
	}

	res := b.Run(cmd.Context(), bootstrap.Params{
		ArchiveDir:   runOpts.archiveDir,
		DupFolder:    runOpts.dupFolder,
		ForceExtract: runOpts.force,
		ZipMode:      runOpts.zipMode,
		Password:     password,
		SecureTry:    password != "",
		Client:       "cli",
	})

	out := cmd.OutOrStdout()
	switch res.View {
	case bootstrap.ViewRedirect:
		fmt.Fprintf(out, "Installer ready: %s\n", res.Form.Action)
		fmt.Fprintf(out, "Session: %s\n", res.Form.SessionID)
		if res.Extracted {
			fmt.Fprintf(out, "Extracted %d files with the %s engine\n", res.FilesFound, res.Engine)
		}
		for _, f := range res.Form.Fields {
			if f.Name != handoff.FieldSession {
				fmt.Fprintf(out, "  %s=%s\n", f.Name, f.Value)
			}
		}
		return nil
	case bootstrap.ViewPassword:
		if res.Message != "" {
			return fmt.Errorf("%s", res.Message)
		}
		return fmt.Errorf("the archive is encrypted; pass --password or set SITERESTORE_PASSWORD")
	default:
		if res.Remediation != "" {
			return fmt.Errorf("%s (at %s). %s", res.Message, res.State, res.Remediation)
		}
		return fmt.Errorf("%s (at %s)", res.Message, res.State)
	}
}
