// Package csrf issues one-time tokens bound to a session and a field name.
// Only an HMAC digest of each token is stored server side; the token value
// itself travels in the hand-off form.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTokenInvalid indicates the token does not match the stored digest.
	ErrTokenInvalid = errors.New("csrf token invalid")

	// ErrTokenExpired indicates the token is older than its TTL.
	ErrTokenExpired = errors.New("csrf token expired")

	// ErrTokenReused indicates the token was already redeemed.
	ErrTokenReused = errors.New("csrf token already used")

	// ErrNoKey indicates the manager was created without a signing key.
	ErrNoKey = errors.New("csrf signing key is empty")
)

const tokenBytes = 32

// Config holds token configuration.
type Config struct {
	// TTL is how long an issued token may be redeemed.
	TTL time.Duration

	// Key signs token digests.
	Key []byte

	// MaxCacheSize bounds the redeemed-token cache.
	MaxCacheSize int
}

// DefaultConfig returns the default configuration without a key.
func DefaultConfig() Config {
	return Config{
		TTL:          15 * time.Minute,
		MaxCacheSize: 10000,
	}
}

// Record is the server-side half of a token.
type Record struct {
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager issues and verifies tokens.
type Manager struct {
	config Config
	used   map[string]time.Time
	mu     sync.Mutex
	now    func() time.Time
}

// New creates a token manager.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Key) == 0 {
		return nil, ErrNoKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = DefaultConfig().MaxCacheSize
	}
	return &Manager{
		config: cfg,
		used:   make(map[string]time.Time),
		now:    time.Now,
	}, nil
}

// Issue creates a token for field within sessionID.
func (m *Manager) Issue(sessionID, field string) (string, Record, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", Record{}, fmt.Errorf("generating token: %w", err)
	}
	value := hex.EncodeToString(raw)

	return value, Record{
		Digest:    m.digest(sessionID, field, value),
		ExpiresAt: m.now().Add(m.config.TTL),
	}, nil
}

// Redeem verifies value against rec and marks it used. A token can be
// redeemed once.
func (m *Manager) Redeem(rec Record, sessionID, field, value string) error {
	now := m.now()
	if now.After(rec.ExpiresAt) {
		return fmt.Errorf("%w: field=%s", ErrTokenExpired, field)
	}

	expected := m.digest(sessionID, field, value)
	if !hmac.Equal([]byte(expected), []byte(rec.Digest)) {
		return fmt.Errorf("%w: field=%s", ErrTokenInvalid, field)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.used[rec.Digest]; seen {
		return fmt.Errorf("%w: field=%s", ErrTokenReused, field)
	}
	m.used[rec.Digest] = rec.ExpiresAt

	if len(m.used) > m.config.MaxCacheSize {
		m.evictExpired(now)
	}

	return nil
}

func (m *Manager) digest(sessionID, field, value string) string {
	h := hmac.New(sha256.New, m.config.Key)
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(field))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// evictExpired removes redeemed tokens that can no longer be presented.
// Caller holds m.mu.
func (m *Manager) evictExpired(now time.Time) {
	for digest, expires := range m.used {
		if now.After(expires) {
			delete(m.used, digest)
		}
	}
}

// IsTokenError returns true if err is a token verification failure.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenReused)
}
