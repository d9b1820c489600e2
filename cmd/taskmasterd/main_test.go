package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDaemonReturnsOneOnMissingConfig(t *testing.T) {
	code, err := runDaemon(filepath.Join(t.TempDir(), "does-not-exist.yml"), false, defaultListenAddr)
	assert.Equal(t, 1, code)
	assert.Error(t, err)
}

func TestRunDaemonReturnsOneOnBadListenAddr(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("web:\n  cmd: \"/bin/true\"\n"), 0o644))

	code, err := runDaemon(configPath, false, "not-an-address")
	assert.Equal(t, 1, code)
	assert.Error(t, err)
}
