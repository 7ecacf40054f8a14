package cmd

import (
	"context"
	"fmt"
	"os"
)

// Show unlocks the vault and prints the named payloads, or all of them
func Show(ctx context.Context, names []string) error {
	app, err := Open(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.UnlockOnce(); err != nil {
		return err
	}

	if len(names) == 0 {
		names = app.Session.Names()
	}
	for _, name := range names {
		if len(names) > 1 {
			fmt.Printf("# %s\n", name)
		}
		if err := showPayload(os.Stdout, app.Session, name); err != nil {
			return err
		}
	}
	return nil
}
