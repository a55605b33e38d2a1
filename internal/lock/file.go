package lock

import (
	"context"
	"path/filepath"
	"time"
)

// FileLocker locks through files in Dir.
type FileLocker struct {
	Dir string
	// TTL lets the exclusive-create fallback break locks left by a crashed
	// holder. flock locks die with their process and ignore it.
	TTL time.Duration
}

// NewFileLocker creates a file locker in dir.
func NewFileLocker(dir string, ttl time.Duration) *FileLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileLocker{Dir: dir, TTL: ttl}
}

// Path returns the lock file used for key.
func (l *FileLocker) Path(key string) string {
	return filepath.Join(l.Dir, ".siterestore-"+keyHash(key)+".lock")
}

// Acquire implements Locker.
func (l *FileLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return acquireFile(l.Path(key), l.TTL)
}
