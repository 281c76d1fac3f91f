package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDir_WritesToFile(t *testing.T) {
	// Not parallel: swaps the global log output
	dir := t.TempDir()
	require.NoError(t, InitDir(dir))
	defer Close()

	assert.Equal(t, filepath.Join(dir, "debug.log"), GetLogPath())

	LogError("something failed: %d", 42)
	LogPanic("boom")

	data, err := os.ReadFile(GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "[ERROR] something failed: 42")
	assert.Contains(t, string(data), "[PANIC] boom")
}

func TestInitDir_RotatesLargeFile(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, maxLogSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), big, 0o644))

	require.NoError(t, InitDir(dir))
	defer Close()

	matches, err := filepath.Glob(filepath.Join(dir, "debug.log.*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	info, err := os.Stat(GetLogPath())
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(maxLogSize))
}
