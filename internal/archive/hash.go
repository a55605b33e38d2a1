// Package archive identifies the uploaded site archive: where it is, whether
// it belongs to this bootstrap, how large it should be and whether it is
// password protected.
package archive

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/slimrmm/siterestore/internal/failure"
)

// namePattern matches "<name>_<fragment><more>_<date><8 digits>_archive.<ext>".
// The numeric group is at least 14 digits; the hash uses its last 8.
var namePattern = regexp.MustCompile(`^.+_([a-z0-9]{7})[a-z0-9]*_([0-9]{6,})([0-9]{8})_archive\.(zip|daf)$`)

// NameInfo is what the archive file name encodes.
type NameInfo struct {
	Fragment string
	Stamp    string
	Kind     Kind
}

// Hash returns the package hash, "<fragment>-<stamp>".
func (n NameInfo) Hash() string {
	return n.Fragment + "-" + n.Stamp
}

// ParseName extracts the hash parts from an archive file name. Only the base
// name is considered.
func ParseName(name string) (NameInfo, error) {
	m := namePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return NameInfo{}, fmt.Errorf("archive name %q does not follow the package naming scheme", filepath.Base(name))
	}
	kind := KindZip
	if m[4] == "daf" {
		kind = KindDAF
	}
	return NameInfo{Fragment: m[1], Stamp: m[3], Kind: kind}, nil
}

// ValidateHash checks that the hash derived from name equals expected. It
// performs no I/O.
func ValidateHash(name, expected string) error {
	info, err := ParseName(name)
	if err != nil {
		return &failure.ValidationError{
			Reason:      "The archive file name is not recognized.",
			Remediation: "Upload the archive exactly as it was downloaded, without renaming it.",
			Err:         err,
		}
	}
	if info.Hash() != expected {
		return &failure.ValidationError{
			Reason:      "The archive does not belong to this installer.",
			Remediation: "Download the installer and the archive from the same package and upload both again.",
			Err:         fmt.Errorf("derived hash %s, expected %s", info.Hash(), expected),
		}
	}
	return nil
}
