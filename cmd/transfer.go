package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/pinvault/internal/security"
)

// withFiles unlocks the vault once and runs fn with the working directory
// as the file root.
func withFiles(ctx context.Context, fn func(app *App, files *security.FileRoot) error) error {
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

	if err := app.UnlockOnce(); err != nil {
		return err
	}
	return fn(app, files)
}

// Import replaces a payload with the contents of a JSON file
func Import(ctx context.Context, name, path string) error {
	return withFiles(ctx, func(app *App, files *security.FileRoot) error {
		if err := importPayload(app.Session, files, name, path); err != nil {
			return err
		}
		fmt.Printf("✓ Imported %s from %s\n", name, path)
		return nil
	})
}

// Export writes a payload to a JSON file
func Export(ctx context.Context, name, path string) error {
	return withFiles(ctx, func(app *App, files *security.FileRoot) error {
		if err := exportPayload(app.Session, files, name, path); err != nil {
			return err
		}
		fmt.Printf("✓ Exported %s to %s\n", name, path)
		return nil
	})
}

// Diff compares a payload with a local JSON file
func Diff(ctx context.Context, name, path string) error {
	return withFiles(ctx, func(app *App, files *security.FileRoot) error {
		return diffPayload(os.Stdout, app.Session, files, name, path)
	})
}
