package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittofs/internal/bytesize"
)

// ApplyDefaults fills in any unset fields of cfg with sensible defaults.
// Called after unmarshaling a config file, so explicit values are always
// preserved; only zero values are replaced.
func ApplyDefaults(cfg *Config) {
	if cfg.Workdir == "" {
		cfg.Workdir = "/var/lib/zyn"
	}

	applyLoggingDefaults(&cfg.Logging)
	applyCryptoDefaults(&cfg.Crypto)
	applyTLSDefaults(&cfg.TLS)
	applyNodeDefaults(&cfg.Node)
	applyAdminDefaults(&cfg.Admin)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyCryptoDefaults sets the GPG helper's binary default. Fingerprint has
// no default: it names the recipient key and must be configured.
func applyCryptoDefaults(cfg *CryptoConfig) {
	if cfg.Binary == "" {
		cfg.Binary = "gpg2"
	}
}

// applyTLSDefaults sets the listener's default bind address. Certificate
// and key paths have no default: they must be configured.
func applyTLSDefaults(cfg *TLSConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7667"
	}
}

// applyNodeDefaults sets the orchestrator's capacity, page-size, and
// session-lifetime defaults.
func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.FilesystemCapacity == 0 {
		cfg.FilesystemCapacity = 65536
	}
	if cfg.MaxChildrenPerDirectory == 0 {
		cfg.MaxChildrenPerDirectory = 4096
	}
	if cfg.AdminGroupName == "" {
		cfg.AdminGroupName = "admin"
	}
	if cfg.ClientBufferSize == 0 {
		cfg.ClientBufferSize = 64 * 1024
	}
	if cfg.RandomAccessPageSize == 0 {
		cfg.RandomAccessPageSize = bytesize.ByteSize(64 * bytesize.KiB)
	}
	if cfg.BlobPageSize == 0 {
		cfg.BlobPageSize = bytesize.ByteSize(4 * bytesize.MiB)
	}
	if cfg.MaxInactivity == 0 {
		cfg.MaxInactivity = 15 * time.Minute
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
}

// applyAdminDefaults sets the bootstrap admin username default.
func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
}

// applyMetricsDefaults sets the metrics listener's default bind address.
// Enabled defaults to false (opt-in), matching the teacher's metrics
// server convention.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
}

// GetDefaultConfig returns a Config with all default values applied. Used
// when no config file is found and as the basis for `zynd init`'s sample
// config.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Workdir: "/var/lib/zyn",
		TLS: TLSConfig{
			CertFile: "/var/lib/zyn/tls/server.crt",
			KeyFile:  "/var/lib/zyn/tls/server.key",
		},
		Crypto: CryptoConfig{
			Fingerprint: "CHANGE_ME",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
