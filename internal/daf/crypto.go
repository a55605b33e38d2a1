package daf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize   = 32
	nonceSize = 12

	// DefaultIterations is the PBKDF2 cost used by the writer.
	DefaultIterations = 200_000
	minIterations     = 1_000
	maxIterations     = 10_000_000
)

var verifierLabel = []byte("daf password verifier v1")

func deriveKey(password string, salt []byte, iterations uint32) []byte {
	return pbkdf2.Key([]byte(password), salt, int(iterations), keySize, sha256.New)
}

func verifierFor(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(verifierLabel)
	return mac.Sum(nil)
}

// blockCipher seals and opens data blocks.
type blockCipher struct {
	aead cipher.AEAD
}

func newBlockCipher(key []byte) (*blockCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if gcm.NonceSize() != nonceSize {
		return nil, fmt.Errorf("unexpected GCM nonce size %d", gcm.NonceSize())
	}
	return &blockCipher{aead: gcm}, nil
}

func (c *blockCipher) seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return c.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

func (c *blockCipher) open(data []byte) ([]byte, error) {
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: short sealed block", ErrCorrupt)
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: block authentication failed", ErrCorrupt)
	}
	return plain, nil
}

// unlock checks password against h and returns the block cipher, or nil for
// plain archives.
func unlock(h Header, password string) (*blockCipher, error) {
	if !h.Encrypted {
		return nil, nil
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	key := deriveKey(password, h.Salt, h.Iterations)
	if !hmac.Equal(verifierFor(key), h.Verifier) {
		return nil, ErrWrongPassword
	}
	return newBlockCipher(key)
}

// CheckPassword verifies password against the archive header. Plain archives
// accept any password.
func CheckPassword(path, password string) error {
	h, err := ReadHeader(path)
	if err != nil {
		return err
	}
	_, err = unlock(h, password)
	return err
}
