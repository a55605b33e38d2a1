// Package lock provides the advisory lock that keeps two extractions of the
// same installer folder from overlapping.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrBusy is returned when another holder owns the lock.
var ErrBusy = errors.New("another extraction is in progress")

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Minute

// Unlock releases an acquired lock.
type Unlock func() error

// Locker acquires advisory locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// Nop is a Locker that never blocks. It backs the "none" lock backend.
type Nop struct{}

// Acquire implements Locker.
func (Nop) Acquire(ctx context.Context, _ string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() error { return nil }, nil
}
