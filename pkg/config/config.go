package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittofs/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is zyn's complete static configuration: everything Node.Create,
// Node.Load, the crypto helper, and the client listener need at startup.
// Dynamic state (users, groups, the filesystem tree) lives in the encrypted
// workdir blobs described in spec.md's persistence model, not here.
//
// Configuration sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (ZYN_*)
//  3. Configuration file (YAML)
//  4. Built-in defaults
type Config struct {
	// Workdir is the directory holding users.<V>, fs.<V>, node.<V>, and
	// data/. Must be empty for `zynd init` and already initialized for
	// `zynd start`.
	Workdir string `mapstructure:"workdir" validate:"required" yaml:"workdir"`

	// Logging controls internal/logger's output.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Crypto configures the external GPG encryption helper every on-disk
	// blob is encrypted through.
	Crypto CryptoConfig `mapstructure:"crypto" yaml:"crypto"`

	// TLS configures the client-facing listener. Transport itself is an
	// external collaborator; these fields are the minimum zyn needs to
	// stand up a listener and report certificate expiration through
	// QuerySystem's AdminSystemInformation.
	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`

	// Node configures the orchestrator: node-table capacity, per-directory
	// limits, page sizes, and session lifetimes.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Admin seeds the bootstrap admin user created by `zynd init`. The
	// password itself is never persisted here; init always prompts for it
	// interactively.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Metrics controls the optional Prometheus exporter for QueryCounters'
	// gauges, served independently of the TLS client listener.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" (colorized on a terminal) or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// CryptoConfig configures the external encryption helper (pkg/cryptoctx).
type CryptoConfig struct {
	// Fingerprint identifies the GPG recipient key zyn encrypts every
	// persisted blob to.
	Fingerprint string `mapstructure:"fingerprint" validate:"required" yaml:"fingerprint"`

	// Binary overrides the gpg binary name. Defaults to "gpg2".
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// TLSConfig configures the client listener.
type TLSConfig struct {
	// ListenAddr is the address the TLS listener binds, e.g. ":7667".
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// CertFile and KeyFile are the server certificate and key used for the
	// TLS handshake. CertFile's NotAfter is surfaced to admins via
	// Node.SetCertificateExpiration / QuerySystem.
	CertFile string `mapstructure:"cert_file" validate:"required" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" validate:"required" yaml:"key_file"`
}

// NodeConfig configures the orchestrator's fixed capacities and session
// lifetimes.
type NodeConfig struct {
	// FilesystemCapacity bounds the node table.
	FilesystemCapacity int `mapstructure:"filesystem_capacity" validate:"required,gt=0" yaml:"filesystem_capacity"`

	// MaxChildrenPerDirectory bounds a directory's children list.
	MaxChildrenPerDirectory int `mapstructure:"max_children_per_directory" validate:"required,gt=0" yaml:"max_children_per_directory"`

	// AdminGroupName is the display name given to the admin group at
	// create time.
	AdminGroupName string `mapstructure:"admin_group_name" validate:"required" yaml:"admin_group_name"`

	// ClientBufferSize is the socket buffer size handed to client tasks.
	ClientBufferSize int `mapstructure:"client_buffer_size" validate:"required,gt=0" yaml:"client_buffer_size"`

	// RandomAccessPageSize and BlobPageSize are the per-type maximum block
	// sizes, parsed from human-readable strings like "64Ki" or plain byte
	// counts.
	RandomAccessPageSize bytesize.ByteSize `mapstructure:"random_access_page_size" validate:"required,gt=0" yaml:"random_access_page_size"`
	BlobPageSize         bytesize.ByteSize `mapstructure:"blob_page_size" validate:"required,gt=0" yaml:"blob_page_size"`

	// MaxInactivity bounds how long an idle client connection is
	// tolerated before the owning client task drops it.
	MaxInactivity time.Duration `mapstructure:"max_inactivity" validate:"required,gt=0" yaml:"max_inactivity"`

	// TokenTTL is the default lifetime for a freshly allocated
	// authentication token.
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"required,gt=0" yaml:"token_ttl"`
}

// AdminConfig seeds the first administrative user at `zynd init` time.
type AdminConfig struct {
	// Username is the bootstrap admin's login name. Default: "admin".
	Username string `mapstructure:"username" validate:"required" yaml:"username"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics listener on. Default: false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the address the metrics HTTP server binds, e.g.
	// ":9090". Only used when Enabled is true.
	ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true" yaml:"listen_addr"`
}

// Load reads configPath (or, if empty, the default location), applies
// ZYN_-prefixed environment overrides, fills in defaults for anything still
// unset, and validates the result. A missing config file is not an error:
// Load returns GetDefaultConfig() in that case.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration the way `zynd start` does: it insists a
// config file actually exists (Load alone silently falls back to defaults)
// and produces an actionable error pointing at `zynd init`.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  zynd init\n\n"+
				"Or specify a custom config file:\n"+
				"  zynd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  zynd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Validate runs go-playground/validator's struct tags against cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed. Used by `zynd init` to emit the initial sample config.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: not secret, but there's no reason to leave it world-readable.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variable and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// ZYN_NODE_TOKEN_TTL=1h, ZYN_LOGGING_LEVEL=DEBUG, etc.
	v.SetEnvPrefix("ZYN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the custom mapstructure decode hooks this
// config needs: ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook lets NodeConfig's page-size fields accept
// human-readable strings ("64Ki") as well as plain numbers from YAML/env.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets duration fields accept strings like "30s", "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, or "." as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "zyn")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "zyn")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
