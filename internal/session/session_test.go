package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/pinvault/internal/clock"
	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/storage"
	"github.com/illarion/pinvault/internal/vault"
)

var (
	testPIN   = []byte("1234")
	wrongPIN  = []byte("0000")
	testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	db    *storage.Storage
	clock *clock.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.pinvault"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock.Clock{}
	c.Set(testStart)
	return &fixture{db: db, clock: c}
}

// open creates a session whose timers never fire on their own; tests drive
// the checks directly.
func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	v := vault.New(f.db, vault.Options{
		Records:    []string{"tasks", "timetable"},
		Iterations: crypto.MinIters,
	})
	s, err := New(context.Background(), v, f.db, Options{
		InactivityCheck: time.Hour,
		LockoutTick:     time.Hour,
		Clock:           f.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(s *Session) []Event {
	var events []Event
	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				return events
			}
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestSetupLockUnlockScenario(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	assert.Equal(t, Uninitialized, s.State())

	require.NoError(t, s.Setup(testPIN, testPIN))
	assert.Equal(t, Unlocked, s.State())

	require.NoError(t, s.Set("tasks", json.RawMessage(`{"a":1}`)))
	require.NoError(t, s.Lock())
	assert.Equal(t, Locked, s.State())

	_, err := s.Get("tasks")
	assert.ErrorIs(t, err, vault.ErrLocked)

	require.NoError(t, s.Unlock(testPIN))
	value, err := s.Get("tasks")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	value, err = s.Get("timetable")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(value))
}

func TestSetupTwice(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())

	assert.ErrorIs(t, s.Setup(testPIN, testPIN), vault.ErrAlreadyInitialized)
}

func TestUnlockUninitialized(t *testing.T) {
	s := newFixture(t).open(t)
	assert.ErrorIs(t, s.Unlock(testPIN), vault.ErrNotInitialized)
}

func TestUnlockWhenUnlocked(t *testing.T) {
	s := newFixture(t).open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	assert.NoError(t, s.Unlock(wrongPIN))
	assert.Equal(t, 0, s.Status().FailedAttempts)
}

func TestWrongPINCountsDown(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())

	for k := 1; k < DefaultMaxAttempts; k++ {
		err := s.Unlock(wrongPIN)
		var pinErr *InvalidPinError
		require.ErrorAs(t, err, &pinErr)
		assert.Equal(t, DefaultMaxAttempts-k, pinErr.Remaining)
		assert.ErrorIs(t, err, vault.ErrWrongPIN)
		assert.Equal(t, Locked, s.State())
		assert.Equal(t, k, s.Status().FailedAttempts)
	}

	// a correct PIN before the budget runs out resets the counter
	require.NoError(t, s.Unlock(testPIN))
	assert.Equal(t, 0, s.Status().FailedAttempts)

	ls, err := f.db.LoadLockState()
	require.NoError(t, err)
	assert.Equal(t, 0, ls.FailedAttempts)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())

	for k := 1; k < DefaultMaxAttempts; k++ {
		require.Error(t, s.Unlock(wrongPIN))
	}

	err := s.Unlock(wrongPIN)
	var lockErr *LockedOutError
	require.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, ErrLockedOut)
	assert.Equal(t, testStart.Add(DefaultLockoutDuration), lockErr.Until)
	assert.Equal(t, LockedOut, s.State())

	// further attempts, even with the right PIN, are rejected and not counted
	f.clock.Advance(10 * time.Second)
	err = s.Unlock(testPIN)
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 20*time.Second, lockErr.Remaining)
	require.ErrorAs(t, s.Unlock(wrongPIN), &lockErr)
	assert.Equal(t, DefaultMaxAttempts, s.Status().FailedAttempts)

	// countdown
	assert.True(t, s.checkLockout(f.clock.Now()))
	events := drain(s)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventLockoutTick, last.Kind)
	assert.Equal(t, 20*time.Second, last.Remaining)

	// expiry returns to Locked with a fresh budget
	f.clock.Advance(20 * time.Second)
	assert.False(t, s.checkLockout(f.clock.Now()))
	assert.Equal(t, Locked, s.State())
	assert.Equal(t, 0, s.Status().FailedAttempts)
	assert.Equal(t, EventLockoutExpired, drain(s)[0].Kind)

	require.NoError(t, s.Unlock(testPIN))
	assert.Equal(t, Unlocked, s.State())
}

func TestLockoutExpiresOnUnlockAttempt(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())
	for k := 0; k < DefaultMaxAttempts; k++ {
		require.Error(t, s.Unlock(wrongPIN))
	}
	require.Equal(t, LockedOut, s.State())

	f.clock.Advance(DefaultLockoutDuration)
	require.NoError(t, s.Unlock(testPIN))
	assert.Equal(t, Unlocked, s.State())
}

func TestLockoutSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())
	for k := 0; k < DefaultMaxAttempts; k++ {
		require.Error(t, s.Unlock(wrongPIN))
	}
	require.NoError(t, s.Close())

	f.clock.Advance(5 * time.Second)
	s2 := f.open(t)
	assert.Equal(t, LockedOut, s2.State())
	assert.Equal(t, 25*time.Second, s2.Status().LockoutRemaining)

	var lockErr *LockedOutError
	require.ErrorAs(t, s2.Unlock(testPIN), &lockErr)
	require.NoError(t, s2.Close())

	// an expired lockout is cleared on load
	f.clock.Advance(time.Minute)
	s3 := f.open(t)
	assert.Equal(t, Locked, s3.State())
	assert.Equal(t, 0, s3.Status().FailedAttempts)
	require.NoError(t, s3.Unlock(testPIN))
}

func TestFailedAttemptsSurviveRestart(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())
	require.Error(t, s.Unlock(wrongPIN))
	require.Error(t, s.Unlock(wrongPIN))
	require.NoError(t, s.Close())

	s2 := f.open(t)
	assert.Equal(t, 2, s2.Status().FailedAttempts)
	assert.Equal(t, DefaultMaxAttempts-2, s2.Status().RemainingAttempts)
}

func TestRestartStartsLocked(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))

	locked, err := f.db.GetLockFlag()
	require.NoError(t, err)
	require.False(t, locked)

	// a second session over the same file, as after a crash
	s2 := f.open(t)
	assert.Equal(t, Locked, s2.State())
	locked, err = f.db.GetLockFlag()
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestInactivityLocks(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	drain(s)

	f.clock.Advance(DefaultInactivityTimeout)
	assert.True(t, s.checkInactivity(f.clock.Now()), "lock triggers only after the timeout is exceeded")

	s.Touch()
	f.clock.Advance(DefaultInactivityTimeout)
	assert.True(t, s.checkInactivity(f.clock.Now()))
	assert.Equal(t, Unlocked, s.State())

	f.clock.Advance(time.Second)
	assert.False(t, s.checkInactivity(f.clock.Now()))
	assert.Equal(t, Locked, s.State())

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventLocked, events[0].Kind)
	assert.Equal(t, ReasonInactivity, events[0].Reason)

	locked, err := f.db.GetLockFlag()
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestInactivityLockSavesPending(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))

	require.NoError(t, s.payloads.SetPlaintext("tasks", json.RawMessage(`[1,2]`)))
	f.clock.Advance(DefaultInactivityTimeout + time.Second)
	assert.False(t, s.checkInactivity(f.clock.Now()))

	require.NoError(t, s.Unlock(testPIN))
	value, err := s.Get("tasks")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(value))
}

func TestConcurrentUnlockIsBusy(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())

	require.True(t, s.inflight.TryAcquire(1))
	assert.ErrorIs(t, s.Unlock(testPIN), ErrBusy)
	assert.ErrorIs(t, s.Reset(), ErrBusy)
	s.inflight.Release(1)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Unlock(testPIN)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrBusy)
		}
	}
	assert.Equal(t, Unlocked, s.State())
	assert.Equal(t, 0, s.Status().FailedAttempts)
}

func TestResetThenSetup(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Set("tasks", json.RawMessage(`{"a":1}`)))
	require.NoError(t, s.Lock())
	require.Error(t, s.Unlock(wrongPIN))

	require.NoError(t, s.Reset())
	assert.Equal(t, Uninitialized, s.State())
	assert.Equal(t, 0, s.Status().FailedAttempts)

	require.NoError(t, s.Setup([]byte("5678"), []byte("5678")))
	for _, name := range s.Names() {
		value, err := s.Get(name)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(value))
	}
}

func TestResetWhileLockedOut(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	require.NoError(t, s.Lock())
	for k := 0; k < DefaultMaxAttempts; k++ {
		require.Error(t, s.Unlock(wrongPIN))
	}

	require.NoError(t, s.Reset())
	assert.Equal(t, Uninitialized, s.State())
	assert.Zero(t, s.Status().LockoutRemaining)

	ls, err := f.db.LoadLockState()
	require.NoError(t, err)
	assert.Nil(t, ls.LockoutUntil)
}

func TestSetRejectsUnknownAndInvalid(t *testing.T) {
	s := newFixture(t).open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))

	assert.Error(t, s.Set("notes", json.RawMessage(`[]`)))
	assert.Error(t, s.Set("tasks", json.RawMessage(`{`)))
	assert.NoError(t, s.Flush())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Locked, s.State())
	assert.ErrorIs(t, s.Unlock(testPIN), ErrClosed)
	assert.ErrorIs(t, s.Lock(), ErrClosed)

	_, ok := <-s.Events()
	for ok {
		_, ok = <-s.Events()
	}
}

func TestTimersFire(t *testing.T) {
	f := newFixture(t)
	v := vault.New(f.db, vault.Options{Records: []string{"tasks"}, Iterations: crypto.MinIters})
	s, err := New(context.Background(), v, f.db, Options{
		InactivityTimeout: time.Millisecond,
		InactivityCheck:   5 * time.Millisecond,
		Clock:             f.clock,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Setup(testPIN, testPIN))
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return s.State() == Locked
	}, 2*time.Second, 5*time.Millisecond)
}

func TestErrorMessages(t *testing.T) {
	err := &LockedOutError{Remaining: 2500 * time.Millisecond}
	assert.Equal(t, "too many failed attempts, try again in 3s", err.Error())
	assert.True(t, errors.Is(err, ErrLockedOut))

	assert.Equal(t, "wrong PIN, 2 attempts remaining", (&InvalidPinError{Remaining: 2}).Error())
	assert.Equal(t, time.Duration(0), RoundUp(-time.Second))
}

func TestSetupRacingCloseLeavesVaultLocked(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Setup(testPIN, testPIN) }()
	// land inside key derivation
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	err := <-errc
	if err != nil {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.False(t, s.vault.Unlocked())
	assert.NotEqual(t, Unlocked, s.State())

	locked, err := f.db.GetLockFlag()
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestSaveFailureKeepsChange(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Setup(testPIN, testPIN))
	drain(s)

	require.NoError(t, f.db.Close())

	err := s.Set("tasks", json.RawMessage(`[1]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "change kept in memory")
	assert.Equal(t, Unlocked, s.State())
	assert.True(t, s.payloads.Dirty())

	value, err := s.Get("tasks")
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(value))

	var saveFailed bool
	for _, e := range drain(s) {
		if e.Kind == EventSaveFailed {
			saveFailed = true
			assert.Error(t, e.Err)
		}
	}
	assert.True(t, saveFailed)

	// the pending change is retried
	assert.Error(t, s.Flush())
	assert.True(t, s.payloads.Dirty())

	assert.Error(t, s.Lock())
	assert.Equal(t, Locked, s.State())
	assert.False(t, s.vault.Unlocked())
}

// flagStore records lock flag writes and accepts them even when the
// underlying database is gone
type flagStore struct {
	*storage.Storage
	mu    sync.Mutex
	flags []bool
}

func (fs *flagStore) SetLockFlag(locked bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flags = append(fs.flags, locked)
	return nil
}

func TestResetFailureWhileUnlockedMarksLocked(t *testing.T) {
	f := newFixture(t)
	store := &flagStore{Storage: f.db}
	v := vault.New(f.db, vault.Options{Records: []string{"tasks"}, Iterations: crypto.MinIters})
	s, err := New(context.Background(), v, store, Options{
		InactivityCheck: time.Hour,
		LockoutTick:     time.Hour,
		Clock:           f.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Setup(testPIN, testPIN))
	drain(s)
	require.NoError(t, f.db.Close())

	require.Error(t, s.Reset())
	assert.Equal(t, Locked, s.State())
	assert.False(t, s.vault.Unlocked())

	store.mu.Lock()
	assert.Contains(t, store.flags, true)
	store.mu.Unlock()

	events := drain(s)
	require.NotEmpty(t, events)
	assert.Equal(t, EventLocked, events[0].Kind)
	assert.Equal(t, ReasonReset, events[0].Reason)
}
