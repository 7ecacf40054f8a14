// Package session implements the lock state machine around a vault.
//
// A session is Uninitialized until a PIN is set up, then moves between
// Locked, Unlocked and LockedOut. Wrong PINs count against an attempt budget
// that survives restarts; exhausting it suspends unlocking for a fixed
// period. An unlocked session locks itself after a period without activity.
//
// Timer-driven transitions run on a scheduler owned by the session and are
// reported on the Events channel so a terminal UI can react to them.
package session
