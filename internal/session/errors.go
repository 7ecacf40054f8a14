package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/illarion/pinvault/internal/vault"
)

var (
	// ErrBusy is returned when a setup, unlock or reset is already running
	ErrBusy = errors.New("another unlock is in progress")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("session closed")
	// ErrLockedOut is wrapped by LockedOutError
	ErrLockedOut = errors.New("too many failed attempts")
)

// InvalidPinError is returned for a wrong PIN that did not exhaust the
// attempt budget.
type InvalidPinError struct {
	Remaining int
}

func (e *InvalidPinError) Error() string {
	return fmt.Sprintf("wrong PIN, %d attempts remaining", e.Remaining)
}

func (e *InvalidPinError) Unwrap() error {
	return vault.ErrWrongPIN
}

// LockedOutError is returned while unlock attempts are suspended
type LockedOutError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s, try again in %s", ErrLockedOut, RoundUp(e.Remaining))
}

func (e *LockedOutError) Unwrap() error {
	return ErrLockedOut
}

// RoundUp rounds d up to whole seconds for display
func RoundUp(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}
