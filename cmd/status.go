package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illarion/pinvault/internal/session"
	"github.com/illarion/pinvault/internal/vault"
)

// Status shows the current state of the vault. No PIN is required.
func Status(ctx context.Context) error {
	app, err := Open(ctx, false)
	if errors.Is(err, vault.ErrNotInitialized) {
		fmt.Println("No vault file found")
		fmt.Println("Run 'pinvault init' to create one")
		return nil
	}
	if err != nil {
		return err
	}
	defer app.Close()

	st := app.Session.Status()
	fmt.Printf("Vault:  %s\n", app.Config.Path)
	fmt.Printf("State:  %s\n", st.State)
	if st.State == session.Uninitialized {
		fmt.Println("\nRun 'pinvault init' to set a PIN")
		return nil
	}

	if st.FailedAttempts > 0 {
		fmt.Printf("Failed attempts: %d (%d remaining)\n", st.FailedAttempts, max(st.RemainingAttempts, 0))
	}
	if st.LockoutRemaining > 0 {
		fmt.Printf("Locked out for:  %s\n", session.RoundUp(st.LockoutRemaining))
	}

	info, err := app.DB.GetInfo()
	if err != nil {
		return err
	}
	fmt.Println()
	if info.VaultID != "" {
		fmt.Printf("ID:        %s\n", info.VaultID)
	}
	fmt.Printf("Created:   %s\n", info.Created.Format(time.RFC3339))
	fmt.Printf("Modified:  %s\n", info.Modified.Format(time.RFC3339))
	fmt.Printf("Cipher:    AES-256-GCM, PBKDF2-SHA256 (%d iterations)\n", info.Iterations)

	records, err := app.DB.ListRecords()
	if err != nil {
		return err
	}
	stored := make(map[string]int, len(records))
	for _, rec := range records {
		stored[rec.Name] = rec.Size
	}

	fmt.Println("\nRecords:")
	for _, name := range app.Session.Names() {
		size, ok := stored[name]
		if !ok {
			fmt.Printf("  %s (not stored yet)\n", name)
			continue
		}
		fmt.Printf("  %s (%s encrypted)\n", name, formatSize(int64(size)))
	}
	return nil
}
