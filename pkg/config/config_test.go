package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 24*60*60, int(cfg.Node.TokenTTL.Seconds()))
}

func TestLoad_FromExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
workdir: /srv/zyn
logging:
  level: debug
  format: json
  output: stderr
crypto:
  fingerprint: ABCDEF1234567890
tls:
  listen_addr: ":9443"
  cert_file: /srv/zyn/tls/server.crt
  key_file: /srv/zyn/tls/server.key
node:
  filesystem_capacity: 1024
  max_children_per_directory: 128
  admin_group_name: admins
  client_buffer_size: 8192
  random_access_page_size: 32Ki
  blob_page_size: 2Mi
  max_inactivity: 5m
  token_ttl: 12h
admin:
  username: root
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/zyn", cfg.Workdir)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "ABCDEF1234567890", cfg.Crypto.Fingerprint)
	assert.Equal(t, ":9443", cfg.TLS.ListenAddr)
	assert.Equal(t, 1024, cfg.Node.FilesystemCapacity)
	assert.Equal(t, 32*1024, int(cfg.Node.RandomAccessPageSize))
	assert.Equal(t, 2*1024*1024, int(cfg.Node.BlobPageSize))
	assert.Equal(t, 12*60*60, int(cfg.Node.TokenTTL.Seconds()))
	assert.Equal(t, "root", cfg.Admin.Username)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
workdir: /srv/zyn
logging:
  level: info
  format: text
  output: stdout
crypto:
  fingerprint: ABCDEF1234567890
tls:
  listen_addr: ":7667"
  cert_file: /srv/zyn/tls/server.crt
  key_file: /srv/zyn/tls/server.key
node:
  filesystem_capacity: 1024
  max_children_per_directory: 128
  admin_group_name: admins
  client_buffer_size: 8192
  random_access_page_size: 32Ki
  blob_page_size: 2Mi
  max_inactivity: 5m
  token_ttl: 12h
admin:
  username: root
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ZYN_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zynd init")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Admin.Username = "alice"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Admin.Username)
}

func TestGetConfigDir_RespectsXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	assert.Equal(t, filepath.Join(tmp, "zyn"), GetConfigDir())
}

func TestDefaultConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.False(t, DefaultConfigExists())

	cfg := GetDefaultConfig()
	require.NoError(t, SaveConfig(cfg, GetDefaultConfigPath()))
	assert.True(t, DefaultConfigExists())
}
