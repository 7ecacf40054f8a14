package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

var ErrResetAborted = errors.New("reset aborted")

// Reset irreversibly deletes the PIN and every record. Without force it
// asks for confirmation on stdin.
func Reset(ctx context.Context, force bool) error {
	app, err := Open(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	if !force {
		if err := confirmReset(os.Stdin, os.Stderr); err != nil {
			return err
		}
	}

	if err := app.Session.Reset(); err != nil {
		return err
	}
	// Freed pages may still hold old ciphertext
	if err := app.Compact(); err != nil {
		app.Log.Warn("failed to compact after reset", zap.Error(err))
	}

	fmt.Println("✓ Vault reset. Run 'pinvault init' to set a new PIN")
	return nil
}

func confirmReset(in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "This permanently deletes the PIN and all encrypted records.")
	fmt.Fprint(out, "Type 'reset' to continue: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(line) != "reset" {
		return ErrResetAborted
	}
	return nil
}
