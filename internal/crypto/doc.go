// Package crypto provides cryptographic operations for pinvault.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the PIN via PBKDF2
//   - 12-byte random nonce per encryption operation
//   - Authenticated encryption prevents tampering
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 16-byte random salt (stored unencrypted)
//   - 210,000 iterations by default, never fewer than 100,000
//
// PIN verification uses a plain SHA-256 digest (see Digest). It is
// intentionally cheap: brute force is bounded by the lockout in the
// session package, not by the cost of the digest.
//
// Memory safety:
//   - Use ClearBytes() to zero PINs and plaintext after use
//   - Call Key.Destroy() when the session ends
package crypto
