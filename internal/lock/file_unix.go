//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// A holder unlinks the file before it unlocks, so a lock taken on an
// unlinked inode is retried on the file now at the path.
const maxLockAttempts = 5

func acquireFile(path string, _ time.Duration) (Unlock, error) {
	for range maxLockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrBusy
			}
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if !linked(f, path) {
			f.Close()
			continue
		}
		fmt.Fprintf(f, "%d\n", os.Getpid())

		return func() error {
			// Unlink before unlocking.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				f.Close()
				return err
			}
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			return f.Close()
		}, nil
	}
	return nil, ErrBusy
}

// linked reports whether f is still the file at path.
func linked(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}
