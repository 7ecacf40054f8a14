package vault

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/payload"
	"github.com/illarion/pinvault/internal/storage"
)

var testRecords = []string{"tasks", "timetable"}

func newTestVault(t *testing.T) (*Vault, *storage.Storage) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.pinvault"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, Options{Records: testRecords, Iterations: crypto.MinIters}), db
}

func TestSetupValidation(t *testing.T) {
	v, _ := newTestVault(t)

	var verr *ValidationError
	_, err := v.Setup([]byte("123"), []byte("123"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "at least 4")

	_, err = v.Setup([]byte("1234"), []byte("1235"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "PINs do not match", verr.Reason)

	initialized, err := v.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.False(t, v.Unlocked())
}

func TestSetupDigitsOnly(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.pinvault"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	v := New(db, Options{Records: testRecords, Iterations: crypto.MinIters, DigitsOnly: true})

	var verr *ValidationError
	_, err = v.Setup([]byte("12a4"), []byte("12a4"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must contain digits only", verr.Reason)
	assert.False(t, v.Unlocked())

	_, err = v.Setup([]byte("0042"), []byte("0042"))
	require.NoError(t, err)
	assert.True(t, v.Unlocked())
}

func TestSetupStoresEmptyPayloads(t *testing.T) {
	v, db := newTestVault(t)

	set, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)
	assert.True(t, v.Unlocked())
	assert.Len(t, set, 2)
	for _, name := range testRecords {
		assert.JSONEq(t, "[]", string(set[name]))

		data, err := db.GetRecord(name)
		require.NoError(t, err)
		var rec crypto.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		assert.Len(t, rec.Nonce, crypto.NonceSize)
	}

	locked, err := db.GetLockFlag()
	require.NoError(t, err)
	assert.False(t, locked)

	_, err = v.Setup([]byte("1234"), []byte("1234"))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestReencryptLockUnlock(t *testing.T) {
	v, db := newTestVault(t)

	_, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)

	require.NoError(t, v.Reencrypt(payload.Set{"tasks": json.RawMessage(`{"a":1}`)}))
	require.NoError(t, v.Lock())
	assert.False(t, v.Unlocked())

	locked, err := db.GetLockFlag()
	require.NoError(t, err)
	assert.True(t, locked)

	assert.ErrorIs(t, v.Reencrypt(payload.Set{"tasks": json.RawMessage(`[]`)}), ErrLocked)

	set, err := v.Unlock([]byte("1234"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(set["tasks"]))
	assert.JSONEq(t, `[]`, string(set["timetable"]))
}

func TestReencryptUsesFreshNonce(t *testing.T) {
	v, db := newTestVault(t)
	_, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)

	nonces := make(map[string]bool)
	for i := 0; i < 3; i++ {
		require.NoError(t, v.Reencrypt(payload.Set{"tasks": json.RawMessage(`[1]`)}))
		data, err := db.GetRecord("tasks")
		require.NoError(t, err)
		var rec crypto.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		require.False(t, nonces[string(rec.Nonce)])
		nonces[string(rec.Nonce)] = true
	}
}

func TestReencryptUnknownRecord(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)

	assert.ErrorIs(t, v.Reencrypt(payload.Set{"notes": json.RawMessage(`[]`)}), ErrUnknownRecord)
}

func TestUnlockWrongPIN(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.Unlock([]byte("1234"))
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)
	require.NoError(t, v.Lock())

	_, err = v.Unlock([]byte("0000"))
	assert.ErrorIs(t, err, ErrWrongPIN)
	assert.False(t, v.Unlocked())
}

func TestUnlockCorruptedRecord(t *testing.T) {
	v, db := newTestVault(t)
	_, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)
	require.NoError(t, v.Lock())

	data, err := db.GetRecord("tasks")
	require.NoError(t, err)
	var rec crypto.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	rec.Ciphertext[0] ^= 0x01
	tampered, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, db.PutRecords(map[string][]byte{"tasks": tampered}))

	_, err = v.Unlock([]byte("1234"))
	assert.ErrorIs(t, err, ErrCorruptedData)
	assert.False(t, v.Unlocked())

	require.NoError(t, db.PutRecords(map[string][]byte{"tasks": []byte("not json")}))
	_, err = v.Unlock([]byte("1234"))
	assert.ErrorIs(t, err, ErrCorruptedData)
}

func TestUnlockMissingRecordReadsEmpty(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.pinvault"))
	require.NoError(t, err)
	defer db.Close()

	v := New(db, Options{Records: []string{"tasks"}, Iterations: crypto.MinIters})
	_, err = v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)
	require.NoError(t, v.Lock())

	// A record added to the configuration later has nothing stored yet
	v2 := New(db, Options{Records: []string{"tasks", "notes"}, Iterations: crypto.MinIters})
	set, err := v2.Unlock([]byte("1234"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(set["notes"]))
}

func TestResetThenSetup(t *testing.T) {
	v, db := newTestVault(t)
	_, err := v.Setup([]byte("1234"), []byte("1234"))
	require.NoError(t, err)
	require.NoError(t, v.Reencrypt(payload.Set{"tasks": json.RawMessage(`{"a":1}`)}))
	oldSalt, _, err := db.GetSalt()
	require.NoError(t, err)

	require.NoError(t, v.Reset())
	assert.False(t, v.Unlocked())

	initialized, err := v.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized)

	_, err = v.Unlock([]byte("1234"))
	assert.ErrorIs(t, err, ErrNotInitialized)

	set, err := v.Setup([]byte("5678"), []byte("5678"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(set["tasks"]))

	newSalt, _, err := db.GetSalt()
	require.NoError(t, err)
	assert.NotEqual(t, oldSalt, newSalt)

	require.NoError(t, v.Lock())
	_, err = v.Unlock([]byte("1234"))
	assert.ErrorIs(t, err, ErrWrongPIN)

	set, err = v.Unlock([]byte("5678"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(set["tasks"]))
}
