package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/node"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initWorkdir     string
	initFingerprint string
	initAdminName   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration and create a new workdir",
	Long: `init writes a sample configuration file (an existing one is replaced only
with --force; otherwise init stops with an error), then
creates a brand-new, empty zyn workdir: an authority seeded with a single
admin group and a single admin user, and an empty filesystem, both encrypted
and persisted under --workdir.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	initCmd.Flags().StringVar(&initWorkdir, "workdir", "", "workdir to create (overrides config)")
	initCmd.Flags().StringVar(&initFingerprint, "fingerprint", "", "GPG recipient fingerprint to encrypt with (overrides config)")
	initCmd.Flags().StringVar(&initAdminName, "admin-username", "", "bootstrap admin username (overrides config)")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()

	path, err := writeSampleConfig(configPath)
	if err != nil {
		return err
	}
	cmd.Printf("Wrote configuration to %s\n", path)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	applyInitOverrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration is incomplete, edit %s and re-run: %w", path, err)
	}

	password, err := promptPasswordWithConfirmation("Admin password")
	if err != nil {
		return err
	}

	cc := cryptoctx.NewGPGContext(cfg.Crypto.Fingerprint)
	if cfg.Crypto.Binary != "" {
		cc.Binary = cfg.Crypto.Binary
	}

	auth := authority.New()
	groupID := authority.GroupID(0)
	if err := auth.ConfigureAdminGroup(groupID, cfg.Node.AdminGroupName); err != nil {
		return fmt.Errorf("failed to configure admin group: %w", err)
	}
	userID, err := auth.AddUser(cfg.Admin.Username, password, nil)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	if err := auth.ModifyGroupAddUser(groupID, userID); err != nil {
		return fmt.Errorf("failed to add admin user to admin group: %w", err)
	}

	settings := node.Settings{
		FilesystemCapacity:      cfg.Node.FilesystemCapacity,
		MaxChildrenPerDirectory: cfg.Node.MaxChildrenPerDirectory,
		AdminGroupName:          cfg.Node.AdminGroupName,
		ClientBufferSize:        cfg.Node.ClientBufferSize,
		RandomAccessPageSize:    cfg.Node.RandomAccessPageSize.Uint64(),
		BlobPageSize:            cfg.Node.BlobPageSize.Uint64(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := node.Create(ctx, cc, cfg.Workdir, auth, settings, cfg.Node.MaxInactivity, cfg.Node.TokenTTL); err != nil {
		return fmt.Errorf("failed to create workdir: %w", err)
	}

	cmd.Printf("Created workdir %s with admin user %q\n", cfg.Workdir, cfg.Admin.Username)
	return nil
}

func writeSampleConfig(configPath string) (string, error) {
	if configPath != "" {
		return configPath, config.InitConfigToPath(configPath, initForce)
	}
	return config.InitConfig(initForce)
}

func applyInitOverrides(cfg *config.Config) {
	if initWorkdir != "" {
		cfg.Workdir = initWorkdir
	}
	if initFingerprint != "" {
		cfg.Crypto.Fingerprint = initFingerprint
	}
	if initAdminName != "" {
		cfg.Admin.Username = initAdminName
	}
}
