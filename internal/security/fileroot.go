// Package security confines payload import and export to one directory.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxPayloadSize bounds what ReadFile accepts
const MaxPayloadSize = 4 << 20

var (
	ErrPathEscapes  = errors.New("path escapes working directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
	ErrTooLarge     = errors.New("file too large")
)

// FileRoot reads and writes files below a directory using os.Root, so
// symlinks and .. components cannot reach outside it.
type FileRoot struct {
	root *os.Root
}

// Open creates a FileRoot for dir
func Open(dir string) (*FileRoot, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", abs, err)
	}

	return &FileRoot{root: root}, nil
}

// Close releases the directory handle
func (r *FileRoot) Close() error {
	return r.root.Close()
}

// Resolve checks a user-supplied path and returns it cleaned and relative
// to the root.
func (r *FileRoot) Resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, path)
	}
	clean := filepath.Clean(path)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return clean, nil
}

// ReadFile reads a file of at most MaxPayloadSize bytes
func (r *FileRoot) ReadFile(path string) ([]byte, error) {
	clean, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := r.root.Open(clean)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxPayloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, clean, MaxPayloadSize)
	}
	return data, nil
}

// WriteFile writes data with owner-only permissions, creating parent
// directories as needed.
func (r *FileRoot) WriteFile(path string, data []byte) error {
	clean, err := r.Resolve(path)
	if err != nil {
		return err
	}

	if parent := filepath.Dir(clean); parent != "." {
		if err := r.root.MkdirAll(parent, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", parent, err)
		}
	}
	return r.root.WriteFile(clean, data, 0o600)
}
