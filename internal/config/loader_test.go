package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConfigHome(t *testing.T) string {
	t.Helper()
	home, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "memoryd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func TestLoadWithFile(t *testing.T) {
	dir := setupConfigHome(t)
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 8088\nstorage:\n  driver: memory\n")
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 500, cfg.Retention.Capacity)
}

func TestLoadWithFileEnvOverride(t *testing.T) {
	dir := setupConfigHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0600))
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadWithFileMissingFileUsesDefaults(t *testing.T) {
	dir := setupConfigHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9030, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoadWithFileRejectsWeakPermissions(t *testing.T) {
	dir := setupConfigHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFileRejectsOutsidePath(t *testing.T) {
	setupConfigHome(t)
	_, err := LoadWithFile("/tmp/other/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in")
}
