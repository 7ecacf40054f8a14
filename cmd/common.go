package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/illarion/pinvault/internal/config"
	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/logger"
	"github.com/illarion/pinvault/internal/session"
	"github.com/illarion/pinvault/internal/storage"
	"github.com/illarion/pinvault/internal/vault"
)

// App bundles everything a command needs
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	DB      *storage.Storage
	Vault   *vault.Vault
	Session *session.Session
}

// Open loads configuration and opens the vault file. Unless create is set,
// a missing vault file is reported as not initialized instead of being
// created.
func Open(ctx context.Context, create bool) (*App, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return OpenWith(ctx, cfg, log, create)
}

// OpenWith is Open with explicit configuration and logger. The App owns log
// from here on; it is closed on failure as well.
func OpenWith(ctx context.Context, cfg *config.Config, log *logger.Logger, create bool) (*App, error) {
	if !create {
		if _, err := os.Stat(cfg.Path); errors.Is(err, os.ErrNotExist) {
			_ = log.Close()
			return nil, vault.ErrNotInitialized
		}
	}

	db, err := storage.Open(cfg.Path)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	v := vault.New(db, vault.Options{
		Records:      cfg.Records,
		Iterations:   cfg.KDF.Iterations,
		MinPINLength: cfg.Lock.MinPINLength,
		DigitsOnly:   cfg.Lock.DigitsOnly,
		Logger:       log,
	})

	sess, err := session.New(ctx, v, db, session.Options{
		MaxAttempts:       cfg.Lock.MaxAttempts,
		LockoutDuration:   cfg.Lock.LockoutDuration,
		InactivityTimeout: cfg.Lock.InactivityTimeout,
		InactivityCheck:   cfg.Lock.InactivityCheck,
		LockoutTick:       cfg.Lock.LockoutTick,
		Logger:            log,
	})
	if err != nil {
		db.Close()
		_ = log.Close()
		return nil, err
	}

	return &App{Config: cfg, Log: log, DB: db, Vault: v, Session: sess}, nil
}

// Close locks the session and closes the vault file
func (a *App) Close() {
	if err := a.Session.Close(); err != nil {
		a.Log.Error("failed to lock session", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %s\n", FormatError(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Error("failed to close vault file", zap.Error(err))
	}
	_ = a.Log.Close()
}

// Compact closes the session and rewrites the vault file. The session's
// timers write lock state through the same handle Compact replaces, so they
// are stopped first and the session cannot be used afterwards.
func (a *App) Compact() error {
	if err := a.Session.Close(); err != nil {
		a.Log.Error("failed to lock session", zap.Error(err))
	}
	return a.DB.Compact()
}

// UnlockOnce asks for the PIN a single time and unlocks the session
func (a *App) UnlockOnce() error {
	pin, err := GetPIN("Enter PIN: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(pin)

	return a.Session.Unlock(pin)
}

// FormatError turns an error into the message shown to the user
func FormatError(err error) string {
	var validation *vault.ValidationError
	var invalidPIN *session.InvalidPinError
	var lockedOut *session.LockedOutError

	switch {
	case errors.Is(err, vault.ErrNotInitialized):
		return "vault not initialized\nRun 'pinvault init' first"
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return "vault already initialized\nUse 'pinvault status' to see current state"
	case errors.As(err, &lockedOut):
		return fmt.Sprintf("too many failed attempts, try again in %s", session.RoundUp(lockedOut.Remaining))
	case errors.As(err, &invalidPIN):
		return fmt.Sprintf("wrong PIN (%d attempts remaining)", invalidPIN.Remaining)
	case errors.Is(err, vault.ErrCorruptedData):
		return "wrong PIN or corrupted storage"
	case errors.As(err, &validation):
		return validation.Error()
	case errors.Is(err, vault.ErrLocked):
		return "vault is locked"
	case errors.Is(err, session.ErrBusy):
		return "another unlock is already in progress"
	case errors.Is(err, storage.ErrInUse):
		return "vault file is in use by another pinvault process"
	default:
		return err.Error()
	}
}

// HandleError prints err and exits
func HandleError(err error) {
	writeError(os.Stderr, err)
	os.Exit(1)
}

func writeError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", FormatError(err))
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
