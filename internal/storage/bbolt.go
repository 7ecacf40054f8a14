package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket  = []byte("config")  // KDF params (salt, iterations), timestamps - unencrypted
	AuthBucket    = []byte("auth")    // PIN digest, lock flag, attempt counter
	RecordsBucket = []byte("records") // Encrypted payloads
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigModified = []byte("modified")
	ConfigSalt     = []byte("salt")
	ConfigIters    = []byte("iterations")
	ConfigVaultID  = []byte("vault_id")
)

// Auth keys
var (
	AuthPinDigest = []byte("pin-digest")
	AuthLockFlag  = []byte("lock-flag")
	AuthLockState = []byte("lock-state")
)

// RecordPrefix is prepended to payload names to form record keys
const RecordPrefix = "encrypted-payload-"

const openTimeout = time.Second

var (
	ErrNotFound = errors.New("not found")
	ErrInUse    = errors.New("vault file is in use by another process")
)

// LockState is the persisted part of the lock state machine
type LockState struct {
	FailedAttempts int        `json:"failed_attempts"`
	LockoutUntil   *time.Time `json:"lockout_until,omitempty"`
}

// Storage provides BBolt-based storage for pinvault
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a pinvault database and ensures its bucket layout
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrInUse
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// initialize creates the bucket structure if missing
func (s *Storage) initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, AuthBucket, RecordsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}
		return putTime(config, ConfigCreated, ConfigModified)
	})
}

func putTime(b *bolt.Bucket, keys ...[]byte) error {
	now, err := time.Now().MarshalBinary()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Put(k, now); err != nil {
			return err
		}
	}
	return nil
}

func getTime(b *bolt.Bucket, key []byte) (time.Time, error) {
	var t time.Time
	data := b.Get(key)
	if data == nil {
		return t, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	err := t.UnmarshalBinary(data)
	return t, err
}

// GetOrCreateSalt returns the stored salt and iteration count. If no salt
// exists yet, one of size bytes is generated and stored together with
// iterations in the same transaction.
func (s *Storage) GetOrCreateSalt(size int, iterations uint32, random func(int) ([]byte, error)) ([]byte, uint32, error) {
	var (
		salt  []byte
		iters uint32
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if existing := config.Get(ConfigSalt); existing != nil {
			// Make a copy since the slice is only valid during the transaction
			salt = append([]byte(nil), existing...)
			data := config.Get(ConfigIters)
			if len(data) != 4 {
				return fmt.Errorf("iterations: %w", ErrNotFound)
			}
			iters = binary.BigEndian.Uint32(data)
			return nil
		}

		fresh, err := random(size)
		if err != nil {
			return err
		}
		if err := config.Put(ConfigSalt, fresh); err != nil {
			return err
		}
		data := make([]byte, 4)
		binary.BigEndian.PutUint32(data, iterations)
		if err := config.Put(ConfigIters, data); err != nil {
			return err
		}
		salt, iters = append([]byte(nil), fresh...), iterations
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load salt: %w", err)
	}
	return salt, iters, nil
}

// GetSalt retrieves the KDF salt and iteration count
func (s *Storage) GetSalt() ([]byte, uint32, error) {
	var (
		salt  []byte
		iters uint32
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		data := config.Get(ConfigSalt)
		if data == nil {
			return fmt.Errorf("salt: %w", ErrNotFound)
		}
		salt = append([]byte(nil), data...)
		if data := config.Get(ConfigIters); len(data) == 4 {
			iters = binary.BigEndian.Uint32(data)
		}
		return nil
	})
	return salt, iters, err
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one
func (s *Storage) GetOrCreateVaultID() (string, error) {
	var vaultID string
	err := s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if data := config.Get(ConfigVaultID); data != nil {
			vaultID = string(data)
			return nil
		}
		vaultID = uuid.NewString()
		return config.Put(ConfigVaultID, []byte(vaultID))
	})
	return vaultID, err
}

// SetPinDigest stores the hex PIN digest
func (s *Storage) SetPinDigest(digest string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(AuthBucket).Put(AuthPinDigest, []byte(digest))
	})
}

// GetPinDigest retrieves the hex PIN digest
func (s *Storage) GetPinDigest() (string, error) {
	var digest string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(AuthBucket).Get(AuthPinDigest)
		if data == nil {
			return fmt.Errorf("pin digest: %w", ErrNotFound)
		}
		digest = string(data)
		return nil
	})
	return digest, err
}

// DeletePinDigest removes the PIN digest
func (s *Storage) DeletePinDigest() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(AuthBucket).Delete(AuthPinDigest)
	})
}

// SetLockFlag persists whether the vault is locked
func (s *Storage) SetLockFlag(locked bool) error {
	value := []byte("false")
	if locked {
		value = []byte("true")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(AuthBucket).Put(AuthLockFlag, value)
	})
}

// GetLockFlag returns the persisted lock flag. A missing flag reads as locked.
func (s *Storage) GetLockFlag() (bool, error) {
	locked := true
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(AuthBucket).Get(AuthLockFlag); data != nil {
			locked = string(data) != "false"
		}
		return nil
	})
	return locked, err
}

// SaveLockState persists the attempt counter and lockout expiry
func (s *Storage) SaveLockState(state LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(AuthBucket).Put(AuthLockState, data)
	})
}

// LoadLockState returns the persisted lock state, or the zero state
func (s *Storage) LoadLockState() (LockState, error) {
	var state LockState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(AuthBucket).Get(AuthLockState)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	return state, err
}

// PutRecords writes all records in a single transaction, so either every
// record is replaced or none is.
func (s *Storage) PutRecords(records map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(RecordsBucket)
		for name, data := range records {
			if err := bucket.Put([]byte(RecordPrefix+name), data); err != nil {
				return fmt.Errorf("failed to store record %s: %w", name, err)
			}
		}
		return putTime(tx.Bucket(ConfigBucket), ConfigModified)
	})
}

// GetRecord retrieves one encrypted record
func (s *Storage) GetRecord(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(RecordsBucket).Get([]byte(RecordPrefix + name))
		if value == nil {
			return fmt.Errorf("record %s: %w", name, ErrNotFound)
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), value...)
		return nil
	})
	return data, err
}

// RecordInfo describes a stored record without decrypting it
type RecordInfo struct {
	Name string
	Size int
}

// ListRecords returns all stored records sorted by name
func (s *Storage) ListRecords() ([]RecordInfo, error) {
	var records []RecordInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(RecordsBucket).ForEach(func(k, v []byte) error {
			name := string(k)
			if len(name) > len(RecordPrefix) && name[:len(RecordPrefix)] == RecordPrefix {
				records = append(records, RecordInfo{Name: name[len(RecordPrefix):], Size: len(v)})
			}
			return nil
		})
	})
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, err
}

// Wipe deletes the salt, PIN digest, lock state and every record in one
// transaction and leaves the vault flagged as locked.
func (s *Storage) Wipe() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		for _, key := range [][]byte{ConfigSalt, ConfigIters} {
			if err := config.Delete(key); err != nil {
				return err
			}
		}

		auth := tx.Bucket(AuthBucket)
		for _, key := range [][]byte{AuthPinDigest, AuthLockState} {
			if err := auth.Delete(key); err != nil {
				return err
			}
		}
		if err := auth.Put(AuthLockFlag, []byte("true")); err != nil {
			return err
		}

		if err := tx.DeleteBucket(RecordsBucket); err != nil {
			return fmt.Errorf("failed to drop records: %w", err)
		}
		if _, err := tx.CreateBucket(RecordsBucket); err != nil {
			return fmt.Errorf("failed to recreate records: %w", err)
		}
		return putTime(config, ConfigModified)
	})
}

// Info is unencrypted vault metadata shown by status
type Info struct {
	VaultID    string
	Created    time.Time
	Modified   time.Time
	Iterations uint32
}

// GetInfo reads vault metadata
func (s *Storage) GetInfo() (*Info, error) {
	info := &Info{}
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		var err error
		if info.Created, err = getTime(config, ConfigCreated); err != nil {
			return err
		}
		if info.Modified, err = getTime(config, ConfigModified); err != nil {
			return err
		}
		info.VaultID = string(config.Get(ConfigVaultID))
		if data := config.Get(ConfigIters); len(data) == 4 {
			info.Iterations = binary.BigEndian.Uint32(data)
		}
		return nil
	})
	return info, err
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after a reset to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
