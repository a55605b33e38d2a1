package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slimrmm/siterestore/internal/failure"
)

// Kind is the archive container format.
type Kind int

const (
	KindZip Kind = iota
	KindDAF
)

func (k Kind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindDAF:
		return "daf"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf infers the format from a file name extension.
func KindOf(path string) Kind {
	if strings.EqualFold(filepath.Ext(path), ".daf") {
		return KindDAF
	}
	return KindZip
}

// MinSizeRatio is the smallest accepted actual/declared size ratio.
const MinSizeRatio = 0.90

// Package describes the uploaded archive.
type Package struct {
	Path          string
	DeclaredSize  int64
	ActualSize    int64
	Kind          Kind
	Hash          string
	SecondaryHash string
}

// Stat fills ActualSize and Kind from disk. A missing archive is a
// ValidationError.
func (p *Package) Stat() error {
	info, err := os.Stat(p.Path)
	if err != nil {
		return &failure.ValidationError{
			Reason:      "The archive file was not found next to the installer.",
			Remediation: fmt.Sprintf("Upload %s to the same directory as the installer.", filepath.Base(p.Path)),
			Err:         err,
		}
	}
	if info.IsDir() {
		return &failure.ValidationError{
			Reason: "The archive path is a directory.",
			Err:    fmt.Errorf("%s is a directory", p.Path),
		}
	}
	p.ActualSize = info.Size()
	p.Kind = KindOf(p.Path)
	return nil
}

// CheckSize refuses archives that are more than 10% smaller than declared.
// A declared size of zero disables the check.
func (p *Package) CheckSize(minRatio float64) error {
	if p.DeclaredSize <= 0 {
		return nil
	}
	if minRatio <= 0 {
		minRatio = MinSizeRatio
	}
	if SizeRatioOK(p.ActualSize, p.DeclaredSize, minRatio) {
		return nil
	}
	return &failure.ValidationError{
		Reason: fmt.Sprintf("The archive is only %d of %d bytes; the upload looks incomplete.",
			p.ActualSize, p.DeclaredSize),
		Remediation: "Upload the archive again in binary mode and wait for the transfer to finish.",
	}
}

// SizeRatioOK reports whether actual/declared >= minRatio. The boundary is
// inclusive; the comparison is done in integer space to keep 0.90 exact.
func SizeRatioOK(actual, declared int64, minRatio float64) bool {
	if declared <= 0 {
		return true
	}
	permille := int64(minRatio*1000 + 0.5)
	return actual*1000 >= declared*permille
}
