package extract

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/reconcile"
	"github.com/slimrmm/siterestore/internal/security/safecmd"
)

// ShellEngine extracts by running the external unzip utility.
type ShellEngine struct {
	Logger    *slog.Logger
	UnzipPath string
	Cmd       safecmd.Config
}

// NewShellEngine creates a shell engine for the given unzip binary.
func NewShellEngine(logger *slog.Logger, unzipPath string) *ShellEngine {
	return &ShellEngine{
		Logger:    logger,
		UnzipPath: unzipPath,
		Cmd:       safecmd.DefaultConfig(),
	}
}

// Args builds the unzip argument vector and the index of the password
// argument (-1 without one).
func (e *ShellEngine) Args(req Request) ([]string, int) {
	bin := e.UnzipPath
	if bin == "" {
		bin = "unzip"
	}
	argv := []string{bin, "-q", "-o"}
	pwIdx := -1
	if req.Password != "" {
		argv = append(argv, "-P", req.Password)
		pwIdx = len(argv) - 1
	}
	argv = append(argv, req.ArchivePath, req.SourceFolder+"/*")
	if req.ManualMarker != "" {
		argv = append(argv, "-x", req.SourceFolder+"/"+req.ManualMarker)
	}
	argv = append(argv, "-d", req.DestDir)
	return argv, pwIdx
}

// Extract implements Engine. Any output on stderr counts as failure.
func (e *ShellEngine) Extract(ctx context.Context, req Request) (Outcome, error) {
	argv, pwIdx := e.Args(req)
	e.Logger.Info("running external unzip", "command", safecmd.Quote(argv, pwIdx))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	_, stderr, err := safecmd.RunContext(ctx, cmd, e.Cmd)
	if msg := strings.TrimSpace(string(bytes.ToValidUTF8(stderr, nil))); msg != "" {
		if req.Password != "" {
			msg = strings.ReplaceAll(msg, req.Password, "****")
		}
		return failed(&failure.ExtractionError{
			Reason:      "The unzip utility reported an error.",
			Remediation: "Try the archive library engine, or extract the archive manually.",
			Err:         fmt.Errorf("%s", firstLine(msg)),
		}, 0)
	}
	if err != nil {
		return failed(&failure.ExtractionError{
			Reason:      "The unzip utility failed.",
			Remediation: "Try the archive library engine, or extract the archive manually.",
			Err:         err,
		}, 0)
	}

	sourceDir := filepath.Join(req.DestDir, req.SourceFolder)
	if err := reconcile.FixPermissions(sourceDir, reconcile.PermDefault, 0, 0); err != nil {
		return failed(err, 0)
	}

	files, err := countFiles(sourceDir)
	if err != nil {
		return failed(&failure.ExtractionError{Reason: "Unable to inspect the extracted folder.", Err: err}, 0)
	}
	if files == 0 {
		return failed(&failure.ExtractionError{
			Reason: fmt.Sprintf("The archive does not contain the %s folder.", req.SourceFolder),
		}, 0)
	}
	return Outcome{Success: true, FilesFound: files}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countFiles(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n, err
}
