//go:build !unix

package lock

import (
	"fmt"
	"os"
	"time"
)

func acquireFile(path string, ttl time.Duration) (Unlock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return func() error { return removeLockFile(f) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < ttl {
			return nil, ErrBusy
		}
		// Stale lock from a crashed holder.
		os.Remove(path)
	}
	return nil, ErrBusy
}

func removeLockFile(f *os.File) error {
	path := f.Name()
	closeErr := f.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
