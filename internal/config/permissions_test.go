package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}

	tests := []struct {
		mode    os.FileMode
		warn    string
		errPart string
	}{
		{mode: 0o600},
		{mode: 0o400},
		{mode: 0o640, warn: "group-readable"},
		{mode: 0o644, errPart: "must not be accessible by others"},
		{mode: 0o620, errPart: "group-writable"},
		{mode: 0o000, errPart: "readable by owner"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			path := writeTempFile(t, "config.yaml", "{}", tt.mode)
			warn, err := CheckFilePermissions("config", path)
			if tt.errPart != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errPart)
				return
			}
			require.NoError(t, err)
			if tt.warn == "" {
				assert.Empty(t, warn)
			} else {
				assert.Contains(t, warn, tt.warn)
			}
		})
	}
}

func TestCheckFilePermissionsRejectsDirectory(t *testing.T) {
	_, err := CheckFilePermissions("config", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regular file")

	_, err = CheckFilePermissions("config", "")
	assert.Error(t, err)
}

func writeTempFile(t *testing.T, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chmod(path, mode))
	return path
}
