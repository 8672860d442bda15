package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestApplyDefaults_LoggingLevelNormalizedToUpper(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Workdir: "/custom/workdir",
		Logging: LoggingConfig{Level: "ERROR", Format: "json", Output: "/var/log/zyn.log"},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, "/custom/workdir", cfg.Workdir)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/log/zyn.log", cfg.Logging.Output)
}

func TestApplyDefaults_Crypto(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "gpg2", cfg.Crypto.Binary)
}

func TestApplyDefaults_TLS(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, ":7667", cfg.TLS.ListenAddr)
}

func TestApplyDefaults_Node(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 65536, cfg.Node.FilesystemCapacity)
	assert.Equal(t, 4096, cfg.Node.MaxChildrenPerDirectory)
	assert.Equal(t, "admin", cfg.Node.AdminGroupName)
	assert.Equal(t, 64*1024, cfg.Node.ClientBufferSize)
	assert.Equal(t, 15*time.Minute, cfg.Node.MaxInactivity)
	assert.Equal(t, 24*time.Hour, cfg.Node.TokenTTL)
	assert.Greater(t, uint64(cfg.Node.RandomAccessPageSize), uint64(0))
	assert.Greater(t, uint64(cfg.Node.BlobPageSize), uint64(0))
}

func TestApplyDefaults_Admin(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "admin", cfg.Admin.Username)
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.NotEmpty(t, cfg.Workdir)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "admin", cfg.Admin.Username)
	assert.NotEmpty(t, cfg.TLS.CertFile)
	assert.NotEmpty(t, cfg.TLS.KeyFile)
}
