package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/security"
	"github.com/illarion/pinvault/internal/session"
)

// Unlock prompts for the PIN until it is accepted, waiting out lockouts,
// and then runs the session shell.
func Unlock(ctx context.Context) error {
	app, err := Open(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	files, err := security.Open(".")
	if err != nil {
		return err
	}
	defer files.Close()

	if err := unlockWithRetry(ctx, app.Session, os.Stderr); err != nil {
		return err
	}

	return NewShell(app.Session, files, os.Stdin, os.Stdout).Run(ctx)
}

func unlockWithRetry(ctx context.Context, sess *session.Session, out io.Writer) error {
	// A PIN from the environment gets exactly one try
	if pin := GetPINFromEnv(); pin != nil {
		defer crypto.ClearBytes(pin)
		return sess.Unlock(pin)
	}

	for {
		if st := sess.Status(); st.State == session.LockedOut {
			if err := waitLockout(ctx, sess, out, st.LockoutRemaining); err != nil {
				return err
			}
		}

		pin, err := ReadPIN("Enter PIN: ")
		if err != nil {
			return err
		}
		err = sess.Unlock(pin)
		crypto.ClearBytes(pin)

		var invalidPIN *session.InvalidPinError
		var lockedOut *session.LockedOutError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &invalidPIN), errors.As(err, &lockedOut):
			writeError(out, err)
		default:
			return err
		}
	}
}

// waitLockout prints a countdown driven by the session's lockout events
// until unlocking is possible again.
func waitLockout(ctx context.Context, sess *session.Session, out io.Writer, remaining time.Duration) error {
	// Fallback in case the expiry event is dropped
	deadline := time.NewTimer(remaining + time.Second)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case e, ok := <-sess.Events():
			if !ok {
				return session.ErrClosed
			}
			switch e.Kind {
			case session.EventLockoutTick:
				fmt.Fprintf(out, "\rLocked out, try again in %s  ", session.RoundUp(e.Remaining))
			case session.EventLockoutExpired:
				fmt.Fprintln(out)
				return nil
			}
		case <-deadline.C:
			fmt.Fprintln(out)
			if sess.State() != session.LockedOut {
				return nil
			}
			deadline.Reset(time.Second)
		}
	}
}
