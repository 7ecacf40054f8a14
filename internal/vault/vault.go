package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/illarion/pinvault/internal/credential"
	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/logger"
	"github.com/illarion/pinvault/internal/payload"
	"github.com/illarion/pinvault/internal/storage"
)

// DefaultMinPINLength is the shortest PIN Setup accepts
const DefaultMinPINLength = 4

// Options configures a Vault
type Options struct {
	Records      []string // managed payload names
	Iterations   int      // PBKDF2 iterations for a new salt
	MinPINLength int
	DigitsOnly   bool // reject PINs with anything other than 0-9
	Logger       *logger.Logger
}

// Vault owns encryption and decryption of the managed payloads. While
// unlocked it holds the derived key in memory; nothing else does.
type Vault struct {
	db      *storage.Storage
	creds   *credential.Store
	records []string
	opts    Options
	log     *logger.Logger

	mu  sync.Mutex
	key *crypto.Key
}

// New creates a Vault over an open storage
func New(db *storage.Storage, opts Options) *Vault {
	if opts.Iterations == 0 {
		opts.Iterations = crypto.DefaultIters
	}
	if opts.MinPINLength == 0 {
		opts.MinPINLength = DefaultMinPINLength
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Vault{
		db:      db,
		creds:   credential.New(db),
		records: append([]string(nil), opts.Records...),
		opts:    opts,
		log:     opts.Logger.Named("vault"),
	}
}

// Records returns the managed payload names
func (v *Vault) Records() []string {
	return append([]string(nil), v.records...)
}

// Initialized reports whether a PIN has been set up
func (v *Vault) Initialized() (bool, error) {
	return v.creds.HasDigest()
}

// Unlocked reports whether a derived key is held
func (v *Vault) Unlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key != nil
}

func (v *Vault) validate(pin, confirm []byte) error {
	if utf8.RuneCount(pin) < v.opts.MinPINLength {
		return &ValidationError{Reason: fmt.Sprintf("must be at least %d characters", v.opts.MinPINLength)}
	}
	if v.opts.DigitsOnly {
		for _, c := range pin {
			if c < '0' || c > '9' {
				return &ValidationError{Reason: "must contain digits only"}
			}
		}
	}
	if !crypto.ConstantTimeCompare(pin, confirm) {
		return &ValidationError{Reason: "PINs do not match"}
	}
	return nil
}

// Setup sets the PIN on an uninitialized vault, stores an empty payload for
// every managed record and leaves the vault unlocked. Persistence failures
// are returned; the vault stays uninitialized in that case.
func (v *Vault) Setup(pin, confirm []byte) (payload.Set, error) {
	initialized, err := v.Initialized()
	if err != nil {
		return nil, fmt.Errorf("failed to read pin digest: %w", err)
	}
	if initialized {
		return nil, ErrAlreadyInitialized
	}
	if err := v.validate(pin, confirm); err != nil {
		return nil, err
	}

	salt, iters, err := v.db.GetOrCreateSalt(crypto.SaltSize, uint32(v.opts.Iterations), crypto.GenerateRandom)
	if err != nil {
		return nil, err
	}
	kdf := &crypto.KDF{Salt: salt, Iterations: int(iters)}
	key, err := kdf.DeriveKey(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	empty := make(payload.Set, len(v.records))
	for _, name := range v.records {
		empty[name] = append([]byte(nil), payload.Empty...)
	}

	// Records first, digest last: the digest is what marks the vault as set up
	if err := v.store(key, empty); err != nil {
		key.Destroy()
		return nil, err
	}
	if err := v.creds.SetDigest(pin); err != nil {
		key.Destroy()
		return nil, err
	}
	if err := v.db.SetLockFlag(false); err != nil {
		key.Destroy()
		if clearErr := v.creds.Clear(); clearErr != nil {
			v.log.Error("failed to roll back pin digest", zap.Error(clearErr))
		}
		return nil, fmt.Errorf("failed to store lock flag: %w", err)
	}
	if _, err := v.db.GetOrCreateVaultID(); err != nil {
		v.log.Warn("failed to assign vault id", zap.Error(err))
	}

	v.setKey(key)
	v.log.Info("vault set up", zap.Int("records", len(v.records)), zap.Int("iterations", int(iters)))
	return empty, nil
}

// Unlock checks pin against the stored digest and, on a match, derives the
// key and decrypts every managed record. A missing record reads as empty.
// A digest match followed by a decryption failure yields ErrCorruptedData
// and leaves the vault locked.
func (v *Vault) Unlock(pin []byte) (payload.Set, error) {
	initialized, err := v.Initialized()
	if err != nil {
		return nil, fmt.Errorf("failed to read pin digest: %w", err)
	}
	if !initialized {
		return nil, ErrNotInitialized
	}

	ok, err := v.creds.Verify(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to verify pin: %w", err)
	}
	if !ok {
		return nil, ErrWrongPIN
	}

	salt, iters, err := v.db.GetSalt()
	if err != nil {
		v.log.Error("salt missing for an initialized vault", zap.Error(err))
		return nil, ErrCorruptedData
	}
	key, err := (&crypto.KDF{Salt: salt, Iterations: int(iters)}).DeriveKey(pin)
	if err != nil {
		v.log.Error("stored kdf parameters rejected", zap.Error(err))
		return nil, ErrCorruptedData
	}

	set, err := v.load(key)
	if err != nil {
		key.Destroy()
		return nil, err
	}

	if err := v.db.SetLockFlag(false); err != nil {
		key.Destroy()
		set.Wipe()
		return nil, fmt.Errorf("failed to store lock flag: %w", err)
	}

	v.setKey(key)
	v.log.Info("vault unlocked")
	return set, nil
}

func (v *Vault) load(key *crypto.Key) (payload.Set, error) {
	set := make(payload.Set, len(v.records))
	for _, name := range v.records {
		data, err := v.db.GetRecord(name)
		if errors.Is(err, storage.ErrNotFound) {
			set[name] = append([]byte(nil), payload.Empty...)
			continue
		}
		if err != nil {
			set.Wipe()
			return nil, fmt.Errorf("failed to read record %s: %w", name, err)
		}

		var rec crypto.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			set.Wipe()
			v.log.Warn("record is not a valid envelope", zap.String("record", name))
			return nil, fmt.Errorf("%w: record %s", ErrCorruptedData, name)
		}

		plaintext, err := key.Decrypt(&rec)
		if err != nil {
			set.Wipe()
			v.log.Warn("record failed authentication", zap.String("record", name))
			return nil, fmt.Errorf("%w: record %s", ErrCorruptedData, name)
		}
		if !json.Valid(plaintext) {
			crypto.ClearBytes(plaintext)
			set.Wipe()
			return nil, fmt.Errorf("%w: record %s", ErrCorruptedData, name)
		}
		set[name] = plaintext
	}
	return set, nil
}

// Reencrypt encrypts every payload in set under the session key with fresh
// nonces and replaces the stored records in one transaction.
func (v *Vault) Reencrypt(set payload.Set) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return ErrLocked
	}
	for name := range set {
		if !v.manages(name) {
			return fmt.Errorf("%w: %s", ErrUnknownRecord, name)
		}
	}
	return v.store(v.key, set)
}

func (v *Vault) manages(name string) bool {
	for _, r := range v.records {
		if r == name {
			return true
		}
	}
	return false
}

func (v *Vault) store(key *crypto.Key, set payload.Set) error {
	records := make(map[string][]byte, len(set))
	for name, plaintext := range set {
		rec, err := key.Encrypt(plaintext)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", name, err)
		}
		records[name] = data
	}

	if err := v.db.PutRecords(records); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}
	return nil
}

func (v *Vault) setKey(key *crypto.Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		v.key.Destroy()
	}
	v.key = key
}

func (v *Vault) dropKey() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		v.key.Destroy()
		v.key = nil
	}
}

// Lock destroys the in-memory key and records the vault as locked. The key
// is gone even if persisting the flag fails.
func (v *Vault) Lock() error {
	v.dropKey()
	if err := v.db.SetLockFlag(true); err != nil {
		return fmt.Errorf("failed to store lock flag: %w", err)
	}
	return nil
}

// Reset destroys the key and deletes the PIN digest, the salt and every
// record. There is no way back.
func (v *Vault) Reset() error {
	v.dropKey()
	if err := v.db.Wipe(); err != nil {
		return fmt.Errorf("failed to reset vault: %w", err)
	}
	v.log.Warn("vault reset")
	return nil
}
