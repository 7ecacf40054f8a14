package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/illarion/pinvault/internal/clock"
	"github.com/illarion/pinvault/internal/logger"
	"github.com/illarion/pinvault/internal/payload"
	"github.com/illarion/pinvault/internal/scheduler"
	"github.com/illarion/pinvault/internal/storage"
	"github.com/illarion/pinvault/internal/vault"
)

const (
	DefaultMaxAttempts       = 5
	DefaultLockoutDuration   = 30 * time.Second
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultInactivityCheck   = 3 * time.Second
	DefaultLockoutTick       = time.Second

	eventBuffer = 16
)

// State of the lock state machine
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
	LockedOut
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case LockedOut:
		return "locked out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason tells why the session locked
type Reason int

const (
	ReasonExplicit Reason = iota
	ReasonInactivity
	ReasonReset
	ReasonClose
)

func (r Reason) String() string {
	switch r {
	case ReasonExplicit:
		return "locked"
	case ReasonInactivity:
		return "locked due to inactivity"
	case ReasonReset:
		return "vault reset"
	case ReasonClose:
		return "session closed"
	default:
		return "unknown"
	}
}

// EventKind identifies a session event
type EventKind int

const (
	EventUnlocked EventKind = iota
	EventLocked
	EventLockedOut
	EventLockoutTick
	EventLockoutExpired
	EventSaveFailed
)

// Event is delivered on the Events channel. Events are dropped when the
// channel is full.
type Event struct {
	Kind      EventKind
	Reason    Reason        // EventLocked
	Remaining time.Duration // EventLockedOut, EventLockoutTick
	Err       error         // EventSaveFailed
}

// LockStateStore persists the attempt counter, lockout expiry and lock flag
type LockStateStore interface {
	LoadLockState() (storage.LockState, error)
	SaveLockState(storage.LockState) error
	GetLockFlag() (bool, error)
	SetLockFlag(locked bool) error
}

// Options configures a Session. Zero values take the defaults.
type Options struct {
	MaxAttempts       int
	LockoutDuration   time.Duration
	InactivityTimeout time.Duration
	InactivityCheck   time.Duration
	LockoutTick       time.Duration
	Clock             *clock.Clock
	Logger            *logger.Logger
}

func (o *Options) setDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.LockoutDuration == 0 {
		o.LockoutDuration = DefaultLockoutDuration
	}
	if o.InactivityTimeout == 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	if o.InactivityCheck == 0 {
		o.InactivityCheck = DefaultInactivityCheck
	}
	if o.LockoutTick == 0 {
		o.LockoutTick = DefaultLockoutTick
	}
	if o.Clock == nil {
		o.Clock = &clock.Clock{}
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

// Status is a point-in-time view of the session
type Status struct {
	State             State
	FailedAttempts    int
	RemainingAttempts int
	LockoutRemaining  time.Duration
}

// Session owns the vault for the lifetime of the process and applies every
// state transition under one mutex. Lock order is Session.mu, then the
// vault's own lock.
type Session struct {
	vault    *vault.Vault
	store    LockStateStore
	payloads *payload.Buffer
	opts     Options
	clock    *clock.Clock
	log      *logger.Logger

	// one setup, unlock or reset at a time
	inflight *semaphore.Weighted
	sched    *scheduler.Scheduler
	events   chan Event

	mu             sync.Mutex
	state          State
	failedAttempts int
	lockoutUntil   *time.Time
	lastActivity   time.Time
	inactivity     *scheduler.Task
	lockout        *scheduler.Task
	closed         bool
}

// New loads the persisted lock state and returns a session that always
// starts locked. An active lockout resumes with its remaining time.
func New(ctx context.Context, v *vault.Vault, store LockStateStore, opts Options) (*Session, error) {
	opts.setDefaults()

	s := &Session{
		vault:    v,
		store:    store,
		payloads: payload.NewBuffer(v.Records()),
		opts:     opts,
		clock:    opts.Clock,
		log:      opts.Logger.Named("session"),
		inflight: semaphore.NewWeighted(1),
		sched:    scheduler.New(ctx),
		events:   make(chan Event, eventBuffer),
		state:    Uninitialized,
	}

	initialized, err := v.Initialized()
	if err != nil {
		s.sched.Close()
		return nil, fmt.Errorf("failed to read vault state: %w", err)
	}
	if !initialized {
		return s, nil
	}
	s.state = Locked

	locked, err := store.GetLockFlag()
	if err != nil {
		s.sched.Close()
		return nil, fmt.Errorf("failed to read lock flag: %w", err)
	}
	if !locked {
		s.log.Warn("vault was left unlocked by a previous process, marking locked")
		if err := store.SetLockFlag(true); err != nil {
			s.log.Error("failed to store lock flag", zap.Error(err))
		}
	}

	ls, err := store.LoadLockState()
	if err != nil {
		s.sched.Close()
		return nil, fmt.Errorf("failed to read lock state: %w", err)
	}
	s.failedAttempts = ls.FailedAttempts

	s.mu.Lock()
	defer s.mu.Unlock()
	if ls.LockoutUntil != nil {
		until := *ls.LockoutUntil
		if s.clock.Now().Before(until) {
			s.state = LockedOut
			s.lockoutUntil = &until
			s.startLockoutLocked()
			s.log.Info("lockout still active", zap.Time("until", until))
		} else {
			s.failedAttempts = 0
			s.persistLocked()
		}
	}
	return s, nil
}

// Events returns the channel session events are delivered on. It is closed
// by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Names returns the managed payload names
func (s *Session) Names() []string {
	return s.payloads.Names()
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current state with attempt and lockout details
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:             s.state,
		FailedAttempts:    s.failedAttempts,
		RemainingAttempts: s.opts.MaxAttempts - s.failedAttempts,
	}
	if s.lockoutUntil != nil {
		if remaining := s.lockoutUntil.Sub(s.clock.Now()); remaining > 0 {
			st.LockoutRemaining = remaining
		}
	}
	return st
}

// Setup sets the PIN on an uninitialized vault and unlocks it with empty
// payloads.
func (s *Session) Setup(pin, confirm []byte) error {
	if !s.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer s.inflight.Release(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Uninitialized {
		s.mu.Unlock()
		return vault.ErrAlreadyInitialized
	}
	s.mu.Unlock()

	set, err := s.vault.Setup(pin, confirm)
	if err != nil {
		return err
	}
	defer set.Wipe()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Close ran while the key was being derived
	if s.closed {
		if lockErr := s.vault.Lock(); lockErr != nil {
			s.log.Error("failed to lock vault", zap.Error(lockErr))
		}
		s.state = Locked
		return ErrClosed
	}
	return s.enterUnlockedLocked(set)
}

// Unlock verifies pin and decrypts the payloads. A wrong PIN counts against
// the attempt budget; a lockout rejects the call without counting it.
// Unlocking an unlocked session is a no-op.
func (s *Session) Unlock(pin []byte) error {
	if !s.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer s.inflight.Release(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case Uninitialized:
		s.mu.Unlock()
		return vault.ErrNotInitialized
	case Unlocked:
		s.lastActivity = s.clock.Now()
		s.mu.Unlock()
		return nil
	case LockedOut:
		now := s.clock.Now()
		if now.Before(*s.lockoutUntil) {
			err := &LockedOutError{Until: *s.lockoutUntil, Remaining: s.lockoutUntil.Sub(now)}
			s.mu.Unlock()
			return err
		}
		s.expireLockoutLocked()
	}
	s.mu.Unlock()

	// Key derivation is slow and runs outside the mutex
	set, err := s.vault.Unlock(pin)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if err == nil {
			set.Wipe()
			if lockErr := s.vault.Lock(); lockErr != nil {
				s.log.Error("failed to lock vault", zap.Error(lockErr))
			}
		}
		return ErrClosed
	}
	if errors.Is(err, vault.ErrWrongPIN) {
		return s.recordFailureLocked()
	}
	if err != nil {
		return err
	}
	defer set.Wipe()

	if s.failedAttempts > 0 {
		s.failedAttempts = 0
		s.persistLocked()
	}
	return s.enterUnlockedLocked(set)
}

func (s *Session) enterUnlockedLocked(set payload.Set) error {
	if err := s.payloads.Load(set); err != nil {
		if lockErr := s.vault.Lock(); lockErr != nil {
			s.log.Error("failed to lock vault", zap.Error(lockErr))
		}
		return err
	}
	s.state = Unlocked
	s.lastActivity = s.clock.Now()
	s.startInactivityLocked()
	s.emit(Event{Kind: EventUnlocked})
	s.log.Info("session unlocked")
	return nil
}

func (s *Session) recordFailureLocked() error {
	s.failedAttempts++
	s.log.Warn("failed unlock attempt",
		zap.Int("attempts", s.failedAttempts),
		zap.Int("max", s.opts.MaxAttempts),
	)

	if s.failedAttempts < s.opts.MaxAttempts {
		s.persistLocked()
		return &InvalidPinError{Remaining: s.opts.MaxAttempts - s.failedAttempts}
	}

	until := s.clock.Now().Add(s.opts.LockoutDuration)
	s.state = LockedOut
	s.lockoutUntil = &until
	s.persistLocked()
	s.startLockoutLocked()
	s.emit(Event{Kind: EventLockedOut, Remaining: s.opts.LockoutDuration})
	s.log.Warn("too many failed attempts, locked out", zap.Duration("duration", s.opts.LockoutDuration))
	return &LockedOutError{Until: until, Remaining: s.opts.LockoutDuration}
}

func (s *Session) expireLockoutLocked() {
	s.state = Locked
	s.failedAttempts = 0
	s.lockoutUntil = nil
	s.lockout.Stop()
	s.lockout = nil
	s.persistLocked()
	s.emit(Event{Kind: EventLockoutExpired})
	s.log.Info("lockout expired")
}

// Lock saves pending changes, destroys the key and clears the payloads.
// Locking a session that is not unlocked is a no-op.
func (s *Session) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != Unlocked {
		return nil
	}
	return s.lockLocked(ReasonExplicit)
}

func (s *Session) lockLocked(reason Reason) error {
	var errs []error
	if s.payloads.Dirty() {
		if err := s.saveLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.vault.Lock(); err != nil {
		errs = append(errs, err)
	}

	s.payloads.Clear()
	s.inactivity.Stop()
	s.inactivity = nil
	s.state = Locked
	s.emit(Event{Kind: EventLocked, Reason: reason})
	s.log.Info("session locked", zap.Stringer("reason", reason))
	return errors.Join(errs...)
}

// Touch records user activity and postpones the inactivity lock
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Unlocked {
		s.lastActivity = s.clock.Now()
	}
}

// Get returns the named payload. It counts as activity.
func (s *Session) Get(name string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return nil, vault.ErrLocked
	}
	s.lastActivity = s.clock.Now()
	return s.payloads.Plaintext(name)
}

// Set replaces the named payload and reencrypts every record. When the
// write fails the change stays in memory and is retried by the next Set,
// Flush or Lock.
func (s *Session) Set(name string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return vault.ErrLocked
	}
	if err := s.payloads.SetPlaintext(name, value); err != nil {
		return err
	}
	s.lastActivity = s.clock.Now()
	return s.saveLocked()
}

// Flush writes pending changes, if any
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked || !s.payloads.Dirty() {
		return nil
	}
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	snapshot := s.payloads.Snapshot()
	defer snapshot.Wipe()

	if err := s.vault.Reencrypt(snapshot); err != nil {
		s.log.Error("failed to persist payloads, keeping changes in memory", zap.Error(err))
		s.emit(Event{Kind: EventSaveFailed, Err: err})
		return fmt.Errorf("change kept in memory: %w", err)
	}
	s.payloads.MarkClean()
	return nil
}

// Reset wipes the vault. The PIN is not required; this is the path for a
// forgotten PIN and nothing encrypted survives it.
func (s *Session) Reset() error {
	if !s.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer s.inflight.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.payloads.Clear()
	s.inactivity.Stop()
	s.inactivity = nil
	s.lockout.Stop()
	s.lockout = nil
	wasUnlocked := s.state == Unlocked

	if err := s.vault.Reset(); err != nil {
		switch s.state {
		case Unlocked:
			s.state = Locked
			if flagErr := s.store.SetLockFlag(true); flagErr != nil {
				s.log.Error("failed to store lock flag", zap.Error(flagErr))
			}
			s.emit(Event{Kind: EventLocked, Reason: ReasonReset})
		case LockedOut:
			s.startLockoutLocked()
		}
		return err
	}

	s.state = Uninitialized
	s.failedAttempts = 0
	s.lockoutUntil = nil
	if wasUnlocked {
		s.emit(Event{Kind: EventLocked, Reason: ReasonReset})
	}
	return nil
}

// Close locks an unlocked session, stops the timers and closes the events
// channel. It waits for running timer callbacks to return.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	var err error
	if s.state == Unlocked {
		err = s.lockLocked(ReasonClose)
	}
	s.lockout.Stop()
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.sched.Close()
	return err
}

func (s *Session) startInactivityLocked() {
	s.inactivity.Stop()
	s.inactivity = s.sched.Every(s.opts.InactivityCheck, func(time.Time) bool {
		return s.checkInactivity(s.clock.Now())
	})
}

func (s *Session) startLockoutLocked() {
	s.lockout.Stop()
	s.lockout = s.sched.Every(s.opts.LockoutTick, func(time.Time) bool {
		return s.checkLockout(s.clock.Now())
	})
}

// checkInactivity locks the session once it has been idle longer than the
// timeout. It reports whether the check should keep running.
func (s *Session) checkInactivity(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != Unlocked {
		return false
	}
	if now.Sub(s.lastActivity) <= s.opts.InactivityTimeout {
		return true
	}
	if err := s.lockLocked(ReasonInactivity); err != nil {
		s.log.Error("inactivity lock incomplete", zap.Error(err))
	}
	return false
}

// checkLockout emits the remaining lockout time and expires the lockout when
// it runs out. It reports whether the countdown should keep running.
func (s *Session) checkLockout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != LockedOut {
		return false
	}
	remaining := s.lockoutUntil.Sub(now)
	if remaining > 0 {
		s.emit(Event{Kind: EventLockoutTick, Remaining: remaining})
		return true
	}
	s.expireLockoutLocked()
	return false
}

func (s *Session) persistLocked() {
	ls := storage.LockState{FailedAttempts: s.failedAttempts}
	if s.lockoutUntil != nil {
		until := *s.lockoutUntil
		ls.LockoutUntil = &until
	}
	if err := s.store.SaveLockState(ls); err != nil {
		s.log.Error("failed to persist lock state", zap.Error(err))
		s.emit(Event{Kind: EventSaveFailed, Err: err})
	}
}

func (s *Session) emit(e Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}
