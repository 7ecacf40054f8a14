package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/pinvault/internal/credential"
	"github.com/illarion/pinvault/internal/crypto"
	"github.com/illarion/pinvault/internal/session"
	"github.com/illarion/pinvault/internal/vault"
)

// weakScore is the zxcvbn score below which init prints a warning
const weakScore = 2

// Init sets up a new vault
func Init(ctx context.Context) error {
	app, err := Open(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Session.State() != session.Uninitialized {
		return vault.ErrAlreadyInitialized
	}

	// Read PIN (env var or prompt with confirmation)
	var pin, confirm []byte
	if env := GetPINFromEnv(); env != nil {
		pin, confirm = env, append([]byte(nil), env...)
	} else {
		pin, confirm, err = ReadPINConfirm()
		if err != nil {
			return err
		}
	}
	defer crypto.ClearBytes(pin)
	defer crypto.ClearBytes(confirm)

	if err := app.Session.Setup(pin, confirm); err != nil {
		return err
	}

	if credential.Strength(pin) < weakScore {
		fmt.Fprintln(os.Stderr, "Warning: this PIN is easy to guess")
	}
	fmt.Printf("✓ Initialized %s with %d empty records\n", app.Config.Path, len(app.Session.Names()))
	return nil
}
