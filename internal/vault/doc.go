// Package vault provides the PIN-protected encrypted payload store.
//
// Operations:
//   - Setup: set the PIN, store empty payloads, unlock
//   - Unlock: verify the PIN digest, derive the key, decrypt all payloads
//   - Reencrypt: persist new plaintext under the session key
//   - Lock: destroy the session key
//   - Reset: wipe PIN digest, salt and payloads together
//
// A vault has no notion of attempts or timeouts; the session package
// wraps it with the lock state machine.
package vault
