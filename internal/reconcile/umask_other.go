//go:build !unix

package reconcile

import "io/fs"

func readUmask() fs.FileMode {
	return 0o022
}
