package security

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	root, err := Open(t.TempDir())
	require.NoError(t, err)
	defer root.Close()

	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"simple file", "tasks.json", "tasks.json", nil},
		{"subdirectory", "backup/tasks.json", filepath.Join("backup", "tasks.json"), nil},
		{"dot slash", "./tasks.json", "tasks.json", nil},
		{"dot segments", "a/./b/../tasks.json", filepath.Join("a", "tasks.json"), nil},
		{"parent directory", "../tasks.json", "", ErrPathEscapes},
		{"nested parent", "a/../../tasks.json", "", ErrPathEscapes},
		{"absolute", "/etc/passwd", "", ErrAbsolutePath},
		{"empty", "", "", ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" && tt.err == ErrAbsolutePath {
				t.Skip("unix absolute path")
			}
			got, err := root.Resolve(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	root, err := Open(dir)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, root.WriteFile("out/tasks.json", []byte(`{"a":1}`)))

	info, err := os.Stat(filepath.Join(dir, "out", "tasks.json"))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	data, err := root.ReadFile("out/tasks.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	assert.ErrorIs(t, root.WriteFile("../escape.json", nil), ErrPathEscapes)
	_, err = root.ReadFile("missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.json"), []byte(`[]`), 0o600))

	dir := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	root, err := Open(dir)
	require.NoError(t, err)
	defer root.Close()

	_, err = root.ReadFile("link/secret.json")
	assert.Error(t, err)
	assert.Error(t, root.WriteFile("link/new.json", []byte(`[]`)))
}

func TestReadFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	big := bytes.Repeat([]byte("x"), MaxPayloadSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.json"), big, 0o600))

	root, err := Open(dir)
	require.NoError(t, err)
	defer root.Close()

	_, err = root.ReadFile("big.json")
	assert.ErrorIs(t, err, ErrTooLarge)
}
