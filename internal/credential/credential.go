// Package credential stores and checks the one-way PIN digest.
//
// The digest is a single SHA-256 pass. It exists to tell a wrong PIN from
// a correct one before any key derivation is attempted; resistance to
// guessing comes from the session lockout, not from this hash.
package credential

import (
	"errors"
	"fmt"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/storage"
)

// DigestStore persists the hex digest
type DigestStore interface {
	SetPinDigest(digest string) error
	GetPinDigest() (string, error)
	DeletePinDigest() error
}

// Store verifies PINs against the persisted digest
type Store struct {
	db DigestStore
}

// New creates a credential store backed by db
func New(db DigestStore) *Store {
	return &Store{db: db}
}

// SetDigest replaces the stored digest with the digest of pin
func (s *Store) SetDigest(pin []byte) error {
	if err := s.db.SetPinDigest(crypto.Digest(pin)); err != nil {
		return fmt.Errorf("failed to store pin digest: %w", err)
	}
	return nil
}

// Verify reports whether pin matches the stored digest
func (s *Store) Verify(pin []byte) (bool, error) {
	stored, err := s.db.GetPinDigest()
	if err != nil {
		return false, err
	}
	return crypto.ConstantTimeCompare([]byte(stored), []byte(crypto.Digest(pin))), nil
}

// HasDigest reports whether a PIN has been set up
func (s *Store) HasDigest() (bool, error) {
	_, err := s.db.GetPinDigest()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Clear removes the stored digest
func (s *Store) Clear() error {
	return s.db.DeletePinDigest()
}

// Strength scores pin from 0 (trivial) to 4 (strong). It is advisory and
// never blocks setup.
func Strength(pin []byte) int {
	return zxcvbn.PasswordStrength(string(pin), nil).Score
}
