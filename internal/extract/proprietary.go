package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/daf"
	"github.com/slimrmm/siterestore/internal/failure"
)

// Expander is the proprietary archive reader the engine drives.
type Expander interface {
	ExtraOffset(path, password string) (int64, error)
	ExpandDirectory(path, relPath, destDir, password string, ignoreErrors bool, offset int64, hooks daf.Hooks) (int, error)
}

// DAFExpander adapts package daf to Expander.
type DAFExpander struct{}

func (DAFExpander) ExtraOffset(path, password string) (int64, error) {
	return daf.ExtraOffset(path, password)
}

func (DAFExpander) ExpandDirectory(path, relPath, destDir, password string, ignoreErrors bool, offset int64, hooks daf.Hooks) (int, error) {
	return daf.ExpandDirectory(path, relPath, destDir, password, ignoreErrors, offset, hooks)
}

// ProprietaryEngine extracts DAF archives.
type ProprietaryEngine struct {
	Logger       *slog.Logger
	Expander     Expander
	DirMode      fs.FileMode
	FileMode     fs.FileMode
	IgnoreErrors bool
}

// NewProprietaryEngine creates an engine backed by the DAF reader.
func NewProprietaryEngine(logger *slog.Logger) *ProprietaryEngine {
	return &ProprietaryEngine{
		Logger:   logger,
		Expander: DAFExpander{},
		DirMode:  0755,
		FileMode: 0644,
	}
}

// hooks applies the engine's modes on behalf of the expander.
type hooks struct {
	logger   *slog.Logger
	dirMode  fs.FileMode
	fileMode fs.FileMode
}

func (h hooks) Log(msg string) {
	h.logger.Warn("archive expander", "message", msg)
}

func (h hooks) Chmod(path string, mode fs.FileMode) error {
	if h.fileMode != 0 {
		mode = h.fileMode
	}
	return os.Chmod(path, mode)
}

func (h hooks) Mkdir(path string, mode fs.FileMode) error {
	if h.dirMode != 0 {
		mode = h.dirMode
	}
	return os.MkdirAll(path, mode)
}

// Extract implements Engine. The manual-extraction marker is removed after
// expansion.
func (e *ProprietaryEngine) Extract(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return failed(&failure.ExtractionError{Reason: "Extraction was interrupted.", Err: err}, 0)
	}

	offset, err := e.Expander.ExtraOffset(req.ArchivePath, req.Password)
	if err != nil {
		return failed(e.classify(err), 0)
	}

	h := hooks{logger: e.Logger, dirMode: e.DirMode, fileMode: e.FileMode}
	files, err := e.Expander.ExpandDirectory(req.ArchivePath, req.SourceFolder, req.DestDir, req.Password, e.IgnoreErrors, offset, h)
	if err != nil {
		return failed(e.classify(err), files)
	}

	if req.ManualMarker != "" {
		marker := filepath.Join(req.DestDir, req.SourceFolder, req.ManualMarker)
		if err := os.Remove(marker); err == nil {
			files--
		} else if !errors.Is(err, os.ErrNotExist) {
			e.Logger.Warn("unable to remove manual extraction marker", "error", err)
		}
	}

	if files <= 0 {
		return failed(&failure.ExtractionError{
			Reason: fmt.Sprintf("The archive does not contain the %s folder.", req.SourceFolder),
		}, 0)
	}
	return Outcome{Success: true, FilesFound: files}, nil
}

func (e *ProprietaryEngine) classify(err error) error {
	switch {
	case errors.Is(err, daf.ErrWrongPassword), errors.Is(err, daf.ErrPasswordRequired):
		return &failure.AuthError{Reason: "Invalid password", Err: err}
	case daf.Unsupported(err):
		return archive.UnsupportedFormat(err)
	default:
		return &failure.ExtractionError{
			Reason:      "Unable to expand the archive.",
			Remediation: "The upload may be damaged. Upload the archive again.",
			Err:         err,
		}
	}
}
