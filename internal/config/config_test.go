package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDecodesGroupConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.toml")
	contents := `
listen = ":7890"
tcp = true
udp = false
admin_listen = "127.0.0.1:7891"

[groups.1]
expected_workers = 4

[groups.2]
expected_workers = 2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7890", cfg.Listen)
	assert.True(t, cfg.TCP)
	assert.False(t, cfg.UDP)
	assert.Equal(t, map[int]int{1: 4, 2: 2}, cfg.GroupCounts())
	assert.Equal(t, "/tmp/taskproxy", cfg.IPCDirectory, "default applied when unset")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
