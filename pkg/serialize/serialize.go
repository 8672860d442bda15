// Package serialize implements the versioned, encrypted JSON persistence
// format shared by zyn's on-disk records: user authority snapshots,
// filesystem snapshots, per-file metadata, and node settings. Every record is
// written as plain JSON, then handed to a cryptoctx.Context before it ever
// touches disk. File blocks do not use this format: pkg/fileengine encrypts
// their raw bytes directly.
package serialize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

// pathWithVersion appends ".<version>" to basename, mirroring the original
// node's `<name>.<V>` file naming scheme.
func pathWithVersion(basename string, version uint32) string {
	return fmt.Sprintf("%s.%d", basename, version)
}

// findVersion probes descending from latestVersion down to 1 and returns the
// first version whose file exists on disk.
func findVersion(basename string, latestVersion uint32) (uint32, string, error) {
	for v := latestVersion; v > 0; v-- {
		path := pathWithVersion(basename, v)
		if _, err := os.Stat(path); err == nil {
			return v, path, nil
		}
	}
	return 0, "", fmt.Errorf("serialize: no version of %q found", basename)
}

// Write JSON-encodes value, encrypts it through cc, and stores it at
// "<basename>.<version>", replacing whatever was there before.
func Write(ctx context.Context, cc cryptoctx.Context, basename string, version uint32, value any) error {
	path := pathWithVersion(basename, version)

	logger.Debug("serializing record", "path", path)

	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Error("failed to marshal record", "path", path, "error", err)
		return fmt.Errorf("serialize: marshal %q: %w", path, err)
	}

	if err := cc.EncryptToFile(ctx, encoded, path); err != nil {
		return fmt.Errorf("serialize: encrypt %q: %w", path, err)
	}
	return nil
}

// Read finds the highest existing version of basename at or below
// latestVersion, decrypts it, and unmarshals it into out. It reports the
// version it found so callers can apply version-specific upgrade logic.
func Read(ctx context.Context, cc cryptoctx.Context, basename string, latestVersion uint32, out any) (uint32, error) {
	version, path, err := findVersion(basename, latestVersion)
	if err != nil {
		logger.Error("failed to find any version of record", "basename", basename)
		return 0, err
	}

	logger.Debug("deserializing record", "version", version, "path", path)

	decrypted, err := cc.DecryptFromFile(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("serialize: decrypt %q: %w", path, err)
	}

	if err := json.Unmarshal(decrypted, out); err != nil {
		logger.Error("failed to unmarshal record", "path", path, "error", err)
		return 0, fmt.Errorf("serialize: unmarshal %q: %w", path, err)
	}
	return version, nil
}
