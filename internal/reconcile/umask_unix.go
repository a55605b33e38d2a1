//go:build unix

package reconcile

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func readUmask() fs.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return fs.FileMode(old) & fs.ModePerm
}
