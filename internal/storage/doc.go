// Package storage provides the BBolt database interface for pinvault.
//
// Database structure uses three buckets:
//   - config: KDF parameters (salt, iterations), vault ID, timestamps (unencrypted)
//   - auth: PIN digest, lock flag, failed attempt counter and lockout expiry
//   - records: one encrypted payload per name, keyed "encrypted-payload-<name>"
//
// Everything needed by pinvault status lives outside the records bucket,
// so status works without a PIN.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
// Multi-key changes (salt creation, record rewrites, reset) each run in a
// single transaction.
package storage
