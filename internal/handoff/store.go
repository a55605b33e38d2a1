package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/slimrmm/siterestore/internal/security/csrf"
)

// ErrNotFound is returned for unknown or expired sessions and keys.
var ErrNotFound = errors.New("handoff value not found")

// Entry is one stored bag value with its token record.
type Entry struct {
	Value  string      `json:"value"`
	Token  csrf.Record `json:"token"`
	Secret bool        `json:"secret,omitempty"`
}

// Store persists hand-off bags between the bootstrap and the next stage.
type Store interface {
	Save(ctx context.Context, sessionID string, entries map[string]Entry, ttl time.Duration) error
	Get(ctx context.Context, sessionID, key string) (Entry, error)
	// Delete removes a key and reports whether it was still present.
	Delete(ctx context.Context, sessionID, key string) (bool, error)
}

type memoryEntry struct {
	entry   Entry
	enclave *memguard.Enclave
}

type memorySession struct {
	entries map[string]memoryEntry
	expires time.Time
}

// MemoryStore keeps bags in process. Secret values are held in encrypted
// enclaves.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	now      func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, entries map[string]Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := &memorySession{
		entries: make(map[string]memoryEntry, len(entries)),
		expires: s.now().Add(ttl),
	}
	for k, e := range entries {
		me := memoryEntry{entry: e}
		if e.Secret && e.Value != "" {
			me.enclave = memguard.NewEnclave([]byte(e.Value))
			me.entry.Value = ""
		}
		sess.entries[k] = me
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	s.sessions[sessionID] = sess
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, sessionID, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.expires) {
		return Entry{}, ErrNotFound
	}
	me, ok := sess.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e := me.entry
	if me.enclave != nil {
		buf, err := me.enclave.Open()
		if err != nil {
			return Entry{}, err
		}
		e.Value = buf.String()
		buf.Destroy()
	}
	return e, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, sessionID, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if _, ok := sess.entries[key]; !ok {
		return false, nil
	}
	delete(sess.entries, key)
	if len(sess.entries) == 0 {
		delete(s.sessions, sessionID)
	}
	return true, nil
}

// evictExpired drops expired sessions. Caller holds s.mu.
func (s *MemoryStore) evictExpired() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, id)
		}
	}
}
