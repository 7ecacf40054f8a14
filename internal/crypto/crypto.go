package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 16     // Salt size in bytes
	KeySize      = 32     // AES-256 key size
	NonceSize    = 12     // GCM nonce size
	TagSize      = 16     // GCM authentication tag size
	DefaultIters = 210000 // Default PBKDF2 iterations (OWASP minimum)
	MinIters     = 100000 // Lowest iteration count accepted for a vault
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrInvalidSalt       = errors.New("invalid salt length")
	ErrWeakIterations    = errors.New("iteration count too low")
	ErrKeyDestroyed      = errors.New("key destroyed")
)

// KDF handles key derivation from PINs
type KDF struct {
	Salt       []byte
	Iterations int
}

// DeriveKey stretches pin into an AES-256 key. The result is a pure
// function of (pin, Salt, Iterations).
func (k *KDF) DeriveKey(pin []byte) (*Key, error) {
	if len(k.Salt) != SaltSize {
		return nil, ErrInvalidSalt
	}
	if k.Iterations < MinIters {
		return nil, fmt.Errorf("%w: %d (minimum %d)", ErrWeakIterations, k.Iterations, MinIters)
	}

	return &Key{
		key: pbkdf2.Key(pin, k.Salt, k.Iterations, KeySize, sha256.New),
	}, nil
}

// Record is the at-rest form of one encrypted payload.
type Record struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"` // includes the GCM tag
}

// Key is a derived AES-256-GCM key. It lives only in memory and must be
// destroyed when the session ends.
type Key struct {
	key []byte
}

func (k *Key) aead() (cipher.AEAD, error) {
	if len(k.key) != KeySize {
		return nil, ErrKeyDestroyed
	}

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM under a fresh random nonce
func (k *Key) Encrypt(plaintext []byte) (*Record, error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Record{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt verifies and decrypts a record. A wrong key and a tampered record
// both yield ErrAuthFailed.
func (k *Key) Decrypt(rec *Record) ([]byte, error) {
	if rec == nil || len(rec.Nonce) != NonceSize || len(rec.Ciphertext) < TagSize {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// Destroy clears the key from memory
func (k *Key) Destroy() {
	ClearBytes(k.key)
	k.key = nil
}

// Digest returns the hex SHA-256 digest of pin. It is a fast check used only
// to verify a PIN, never as key material.
func Digest(pin []byte) string {
	sum := sha256.Sum256(pin)
	return hex.EncodeToString(sum[:])
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
