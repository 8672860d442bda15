package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigToPath_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := InitConfigToPath(path, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workdir:")
	assert.Contains(t, string(data), "admin:")
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	err := InitConfigToPath(path, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitConfigToPath_Force(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))
	require.NoError(t, InitConfigToPath(path, true))
}

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	assert.Error(t, err)
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Workdir)
	assert.Equal(t, "admin", cfg.Admin.Username)
}
