package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yeka/zip"

	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/reconcile"
	secarchive "github.com/slimrmm/siterestore/internal/security/archive"
)

// MinRootFiles is the file count below which the library engine retries
// with the subfolder search.
const MinRootFiles = 10

var errNoWrapper = errors.New("no wrapper directory holds the installer folder")

// ZipEngine extracts with the in-process archive library.
type ZipEngine struct {
	Logger   *slog.Logger
	Limits   secarchive.Limits
	DirMode  fs.FileMode
	FileMode fs.FileMode
}

// NewZipEngine creates a library engine with default limits and modes.
func NewZipEngine(logger *slog.Logger) *ZipEngine {
	return &ZipEngine{
		Logger:   logger,
		Limits:   secarchive.DefaultLimits(),
		DirMode:  reconcile.DefaultDirMode,
		FileMode: reconcile.DefaultFileMode,
	}
}

// Extract implements Engine.
func (e *ZipEngine) Extract(ctx context.Context, req Request) (Outcome, error) {
	r, err := zip.OpenReader(req.ArchivePath)
	if err != nil {
		return failed(&failure.ExtractionError{
			Reason:      "Unable to open the archive.",
			Remediation: "The upload may be damaged. Upload the archive again.",
			Err:         err,
		}, 0)
	}
	defer r.Close()

	files, err := e.extractPass(ctx, r.File, req)
	if err != nil && !errors.Is(err, errNoWrapper) {
		return failed(err, files)
	}

	if files < MinRootFiles && !req.SearchInSubfolder {
		e.Logger.Info("few installer files at archive root, searching one level down",
			"files", files, "source", req.SourceFolder)

		retry := req
		retry.SearchInSubfolder = true
		nested, err := e.extractPass(ctx, r.File, retry)
		switch {
		case err == nil && nested > 0:
			files = nested
		case err != nil && !errors.Is(err, errNoWrapper):
			return failed(err, files)
		}
	}

	if files == 0 {
		return failed(&failure.ExtractionError{
			Reason:      fmt.Sprintf("The archive does not contain the %s folder.", req.SourceFolder),
			Remediation: "Check that the archive was built by the same package as the installer.",
		}, 0)
	}

	if extra, err := e.ensureLibBundle(ctx, r.File, req); err != nil {
		return failed(err, files)
	} else if extra > 0 {
		e.Logger.Info("library bundle restored in a second pass", "files", extra)
		files += extra
	}

	if err := reconcile.FixPermissions(filepath.Join(req.DestDir, req.SourceFolder), reconcile.PermExplicit, e.DirMode, e.FileMode); err != nil {
		return failed(err, files)
	}

	return Outcome{Success: true, FilesFound: files}, nil
}

// extractPass extracts every entry under the source folder prefix. In
// subfolder mode the prefix is "<wrapper>/<source>/" and the result is
// promoted to DestDir afterwards.
func (e *ZipEngine) extractPass(ctx context.Context, entries []*zip.File, req Request) (int, error) {
	prefix := req.SourceFolder + "/"
	wrapper := ""
	if req.SearchInSubfolder {
		w, err := findWrapper(entries, req.SourceFolder)
		if err != nil {
			return 0, err
		}
		wrapper = w
		prefix = wrapper + "/" + prefix
	}
	marker := prefix + req.ManualMarker

	var selected []*zip.File
	var total uint64
	for _, f := range entries {
		if !strings.HasPrefix(f.Name, prefix) || (req.ManualMarker != "" && f.Name == marker) {
			continue
		}
		selected = append(selected, f)
		total += f.UncompressedSize64
	}
	if err := secarchive.CheckTotals(len(selected), total, e.Limits); err != nil {
		return 0, &failure.ExtractionError{Reason: "The archive exceeds the extraction limits.", Err: err}
	}

	files := 0
	for _, f := range selected {
		if err := ctx.Err(); err != nil {
			return files, &failure.ExtractionError{Reason: "Extraction was interrupted.", Err: err}
		}
		written, err := e.extractEntry(f, req.DestDir, f.Name, req.Password)
		if err != nil {
			return files, err
		}
		if written {
			files++
		}
	}

	if wrapper != "" {
		if err := promote(req.DestDir, wrapper, req.SourceFolder); err != nil {
			return files, err
		}
		e.Logger.Info("promoted installer folder out of wrapper directory", "wrapper", wrapper)
	}
	return files, nil
}

// findWrapper returns the single first-level directory that contains
// "<source>/". More than one candidate is ambiguous.
func findWrapper(entries []*zip.File, source string) (string, error) {
	candidates := make(map[string]struct{})
	for _, f := range entries {
		parts := strings.SplitN(f.Name, "/", 3)
		if len(parts) == 3 && parts[1] == source && parts[0] != "" {
			candidates[parts[0]] = struct{}{}
		}
	}

	switch len(candidates) {
	case 0:
		return "", errNoWrapper
	case 1:
		for w := range candidates {
			return w, nil
		}
	}

	names := make([]string, 0, len(candidates))
	for w := range candidates {
		names = append(names, w)
	}
	return "", &failure.ExtractionError{
		Reason:      "The archive contains more than one installer folder.",
		Remediation: "Rebuild the archive so it holds a single site, or extract it manually.",
		Err:         fmt.Errorf("candidate wrappers: %s", strings.Join(names, ", ")),
	}
}

// promote moves dest/wrapper/source to dest/source and removes the wrapper
// if it is left empty.
func promote(dest, wrapper, source string) error {
	from := filepath.Join(dest, wrapper, source)
	to := filepath.Join(dest, source)
	if err := os.RemoveAll(to); err != nil {
		return &failure.ExtractionError{Reason: "Unable to replace the installer folder.", Err: err}
	}
	if err := os.Rename(from, to); err != nil {
		return &failure.ExtractionError{Reason: "Unable to move the installer folder out of its wrapper.", Err: err}
	}
	// Fails harmlessly when the wrapper holds unrelated content.
	_ = os.Remove(filepath.Join(dest, wrapper))
	return nil
}

// ensureLibBundle re-extracts the library sub-bundle when the first pass did
// not produce it, looking for it at any depth in the archive.
func (e *ZipEngine) ensureLibBundle(ctx context.Context, entries []*zip.File, req Request) (int, error) {
	if req.LibFolder == "" {
		return 0, nil
	}
	libDir := filepath.Join(req.DestDir, req.SourceFolder, req.LibFolder)
	if _, err := os.Stat(libDir); err == nil {
		return 0, nil
	}

	needle := req.SourceFolder + "/" + req.LibFolder + "/"
	files := 0
	for _, f := range entries {
		idx := strings.Index(f.Name, "/"+needle)
		if idx < 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return files, &failure.ExtractionError{Reason: "Extraction was interrupted.", Err: err}
		}
		written, err := e.extractEntry(f, req.DestDir, f.Name[idx+1:], req.Password)
		if err != nil {
			return files, err
		}
		if written {
			files++
		}
	}
	return files, nil
}

// extractEntry writes one member to dest/name and reports whether a file was
// written. A decryption or integrity failure on an encrypted member aborts
// with an AuthError.
func (e *ZipEngine) extractEntry(f *zip.File, dest, name, password string) (bool, error) {
	isDir := strings.HasSuffix(name, "/")
	entry := secarchive.Entry{Name: name, Size: f.UncompressedSize64, IsDir: isDir}
	if err := secarchive.ValidateEntry(dest, entry, e.Limits); err != nil {
		return false, &failure.ExtractionError{Reason: "The archive contains an unsafe path.", Err: err}
	}
	target, _ := secarchive.SafeJoin(dest, name)

	if isDir {
		if err := os.MkdirAll(target, e.DirMode); err != nil {
			return false, &failure.ExtractionError{Reason: "Unable to create a directory.", Err: err}
		}
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), e.DirMode); err != nil {
		return false, &failure.ExtractionError{Reason: "Unable to create a directory.", Err: err}
	}

	if f.IsEncrypted() {
		f.SetPassword(password)
	}
	src, err := f.Open()
	if err != nil {
		return false, e.entryError(f, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, e.FileMode)
	if err != nil {
		return false, &failure.ExtractionError{Reason: "Unable to write an extracted file.", Err: err}
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return false, e.entryError(f, copyErr)
	}
	if closeErr != nil {
		return false, &failure.ExtractionError{Reason: "Unable to write an extracted file.", Err: closeErr}
	}
	return true, nil
}

func (e *ZipEngine) entryError(f *zip.File, err error) error {
	if f.IsEncrypted() {
		return &failure.AuthError{Reason: "Invalid password", Err: err}
	}
	return &failure.ExtractionError{
		Reason: fmt.Sprintf("Unable to read %s from the archive.", f.Name),
		Err:    err,
	}
}
