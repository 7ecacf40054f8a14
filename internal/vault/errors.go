package vault

import "errors"

var (
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrWrongPIN           = errors.New("wrong PIN")
	ErrLocked             = errors.New("vault is locked")
	ErrUnknownRecord      = errors.New("unknown record")

	// ErrCorruptedData means a record failed authentication even though the
	// PIN matched its digest. The cipher cannot tell tampering from a stale
	// or incompatible record, so the message stays non-committal.
	ErrCorruptedData = errors.New("stored data could not be decrypted (wrong PIN or corrupted storage)")
)

// ValidationError reports setup input that was rejected
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid PIN: " + e.Reason
}
