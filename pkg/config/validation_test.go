package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Crypto.Fingerprint = "ABCDEF1234567890"
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_MissingWorkdir(t *testing.T) {
	cfg := validConfig()
	cfg.Workdir = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_InvalidLoggingLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"
	assert.Error(t, Validate(cfg))
}

func TestValidate_InvalidLoggingFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, Validate(cfg))
}

func TestValidate_MissingCryptoFingerprint(t *testing.T) {
	cfg := validConfig()
	cfg.Crypto.Fingerprint = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_MissingTLSListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.TLS.ListenAddr = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_MissingTLSCertFile(t *testing.T) {
	cfg := validConfig()
	cfg.TLS.CertFile = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_ZeroFilesystemCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Node.FilesystemCapacity = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_ZeroTokenTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Node.TokenTTL = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_MissingAdminUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Username = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_MetricsDisabledAllowsEmptyListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.ListenAddr = ""
	assert.NoError(t, Validate(cfg))
}

func TestValidate_MetricsEnabledRequiresListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = ""
	assert.Error(t, Validate(cfg))
}
