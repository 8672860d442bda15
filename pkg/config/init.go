package config

import (
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file to the default location.
// It refuses to overwrite an existing file unless force is true. Returns
// the path the config was written to.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path. It refuses
// to overwrite an existing file unless force is true.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	if err := SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
