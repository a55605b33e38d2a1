package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFileLocker(t *testing.T) {
	l := NewFileLocker(t.TempDir(), 0)
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "/srv/www/site-installer")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := os.Stat(l.Path("/srv/www/site-installer")); err != nil {
		t.Errorf("lock file missing: %v", err)
	}

	if _, err := l.Acquire(ctx, "/srv/www/site-installer"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Acquire() error = %v, want ErrBusy", err)
	}

	other, err := l.Acquire(ctx, "/srv/www/other")
	if err != nil {
		t.Fatalf("Acquire() of another key error = %v", err)
	}
	other()

	if err := unlock(); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	if _, err := os.Stat(l.Path("/srv/www/site-installer")); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	again, err := l.Acquire(ctx, "/srv/www/site-installer")
	if err != nil {
		t.Fatalf("Acquire() after unlock error = %v", err)
	}
	again()
}

func TestFileLockerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileLocker(t.TempDir(), 0).Acquire(ctx, "k"); err == nil {
		t.Error("Acquire() with a cancelled context should fail")
	}
}

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func TestRedisLocker(t *testing.T) {
	mr := setupMiniredis(t)
	l, err := NewRedisLocker("redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "/srv/www/site-installer")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	key := redisKeyPrefix + keyHash("/srv/www/site-installer")
	if !mr.Exists(key) {
		t.Fatal("lock key not set")
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	if _, err := l.Acquire(ctx, "/srv/www/site-installer"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Acquire() error = %v, want ErrBusy", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	if mr.Exists(key) {
		t.Error("lock key not released")
	}
}

func TestRedisLockerExpiredHolder(t *testing.T) {
	mr := setupMiniredis(t)
	l, err := NewRedisLocker("redis://"+mr.Addr(), time.Second)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// The expired holder must not release the new owner's lock.
	if err := stale(); err != nil {
		t.Fatalf("stale unlock() error = %v", err)
	}
	if !mr.Exists(redisKeyPrefix + keyHash("k")) {
		t.Error("stale holder released the new lock")
	}
	fresh()
}

func TestNewRedisLockerBadURL(t *testing.T) {
	if _, err := NewRedisLocker("://nope", 0); err == nil {
		t.Error("NewRedisLocker() with a bad url should fail")
	}
}
