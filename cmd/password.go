package cmd

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/pinvault/internal/crypto"
)

// PINEnv names the environment variable a PIN may be supplied in
const PINEnv = "PINVAULT_PIN"

// ReadPIN reads a PIN from the terminal without echoing
func ReadPIN(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	pin, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read PIN: %w", err)
	}

	return pin, nil
}

// ReadPINConfirm reads a PIN twice. Both copies are returned so setup can
// validate them; the caller clears both.
func ReadPINConfirm() ([]byte, []byte, error) {
	pin, err := ReadPIN("Enter new PIN: ")
	if err != nil {
		return nil, nil, err
	}

	confirm, err := ReadPIN("Confirm PIN: ")
	if err != nil {
		crypto.ClearBytes(pin)
		return nil, nil, err
	}

	return pin, confirm, nil
}

// GetPINFromEnv reads the PIN from PINVAULT_PIN, or returns nil
func GetPINFromEnv() []byte {
	pin := os.Getenv(PINEnv)
	if pin == "" {
		return nil
	}
	// Return a copy to avoid issues when clearing the bytes
	result := make([]byte, len(pin))
	copy(result, pin)
	return result
}

// GetPIN retrieves the PIN from the environment or prompts for it.
// The caller is responsible for calling crypto.ClearBytes on the result.
func GetPIN(prompt string) ([]byte, error) {
	if pin := GetPINFromEnv(); pin != nil {
		return pin, nil
	}
	return ReadPIN(prompt)
}
