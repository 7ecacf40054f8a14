// Package payload holds decrypted payloads for the duration of a session.
//
// The vault never interprets payload contents. A payload is any JSON value;
// the planner that owns it reads and writes it through the Collaborator
// interface.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/illarion/pinvault/internal/crypto"
)

// Empty is the value a freshly set up record holds
var Empty = json.RawMessage("[]")

var (
	ErrUnknown     = errors.New("unknown payload")
	ErrInvalidJSON = errors.New("payload is not valid JSON")
)

// Set maps payload names to their JSON values
type Set map[string]json.RawMessage

// Collaborator is the contract between the vault session and the code that
// owns the payloads.
type Collaborator interface {
	// Plaintext returns the current value of the named payload.
	Plaintext(name string) (json.RawMessage, error)
	// SetPlaintext replaces the value of the named payload.
	SetPlaintext(name string, value json.RawMessage) error
	// Clear drops every payload.
	Clear()
}

// Buffer is an in-memory Collaborator restricted to a fixed set of names
type Buffer struct {
	mu     sync.RWMutex
	names  []string
	values Set
	dirty  bool
}

var _ Collaborator = (*Buffer)(nil)

// NewBuffer creates a buffer for the given payload names
func NewBuffer(names []string) *Buffer {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return &Buffer{names: sorted, values: make(Set, len(names))}
}

// Names returns the managed payload names in sorted order
func (b *Buffer) Names() []string {
	return append([]string(nil), b.names...)
}

func (b *Buffer) known(name string) bool {
	i := sort.SearchStrings(b.names, name)
	return i < len(b.names) && b.names[i] == name
}

// Plaintext implements Collaborator. Payloads that were never set read as Empty.
func (b *Buffer) Plaintext(name string) (json.RawMessage, error) {
	if !b.known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.values[name]
	if !ok {
		return append(json.RawMessage(nil), Empty...), nil
	}
	return append(json.RawMessage(nil), value...), nil
}

// SetPlaintext implements Collaborator. The value is compacted and marks the
// buffer dirty until MarkClean.
func (b *Buffer) SetPlaintext(name string, value json.RawMessage) error {
	if !b.known(name) {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.values[name]; ok {
		crypto.ClearBytes(old)
	}
	b.values[name] = compact.Bytes()
	b.dirty = true
	return nil
}

// Load replaces every payload, e.g. after an unlock. It leaves the buffer clean.
func (b *Buffer) Load(set Set) error {
	for name := range set {
		if !b.known(name) {
			return fmt.Errorf("%w: %s", ErrUnknown, name)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
	for name, value := range set {
		b.values[name] = append(json.RawMessage(nil), value...)
	}
	b.dirty = false
	return nil
}

// Snapshot copies every managed payload
func (b *Buffer) Snapshot() Set {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := make(Set, len(b.names))
	for _, name := range b.names {
		value, ok := b.values[name]
		if !ok {
			value = Empty
		}
		set[name] = append(json.RawMessage(nil), value...)
	}
	return set
}

// Dirty reports whether there are changes not yet persisted
func (b *Buffer) Dirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

// MarkClean records that the current contents have been persisted
func (b *Buffer) MarkClean() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = false
}

// Clear implements Collaborator. Stored bytes are zeroed before release.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
	b.dirty = false
}

func (b *Buffer) clearLocked() {
	for name, value := range b.values {
		crypto.ClearBytes(value)
		delete(b.values, name)
	}
}

// Wipe zeroes every value in set
func (s Set) Wipe() {
	for name, value := range s {
		crypto.ClearBytes(value)
		delete(s, name)
	}
}

// Indent returns value pretty-printed for display
func Indent(value json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, value, "", "  "); err != nil {
		return string(value)
	}
	return out.String()
}
