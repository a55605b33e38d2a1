package handoff

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/hkdf"
)

const (
	redisKeyPrefix = "siterestore:handoff:"
	sealInfo       = "siterestore handoff secret v1"
)

// RedisStore keeps bags in a Redis hash per session. Secret values are
// sealed with a key derived from the shared secret and the session ID.
type RedisStore struct {
	client *redis.Client
	secret []byte
}

// NewRedisStore constructs a Redis-backed store using a redis:// URL.
func NewRedisStore(url string, secret []byte) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), secret)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, secret []byte) (*RedisStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("redis handoff store needs a secret")
	}
	return &RedisStore{client: client, secret: secret}, nil
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sessionID string, entries map[string]Entry, ttl time.Duration) error {
	fields := make(map[string]any, len(entries))
	for k, e := range entries {
		if e.Secret && e.Value != "" {
			sealed, err := s.seal(sessionID, k, e.Value)
			if err != nil {
				return err
			}
			e.Value = sealed
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		fields[k] = data
	}

	key := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (Entry, error) {
	data, err := s.client.HGet(ctx, sessionKey(sessionID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode handoff entry: %w", err)
	}
	if e.Secret && e.Value != "" {
		plain, err := s.open(sessionID, key, e.Value)
		if err != nil {
			return Entry{}, err
		}
		e.Value = plain
	}
	return e, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID, key string) (bool, error) {
	n, err := s.client.HDel(ctx, sessionKey(sessionID), key).Result()
	return n > 0, err
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) aead(sessionID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, []byte(sessionID), []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *RedisStore) seal(sessionID, field, plain string) (string, error) {
	gcm, err := s.aead(sessionID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, []byte(plain), []byte(field))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *RedisStore) open(sessionID, field, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	gcm, err := s.aead(sessionID)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(field))
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}
