package commands

import (
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/node"
	"github.com/spf13/cobra"
)

var (
	groupAs       string
	groupPassword string
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups in the workdir's authority",
}

func init() {
	groupCmd.PersistentFlags().StringVar(&groupAs, "as", "", "username to authenticate as (default: config's admin.username)")
	groupCmd.PersistentFlags().StringVar(&groupPassword, "password", "", "password for --as (prompted if omitted)")

	groupCmd.AddCommand(groupAddCmd)
	groupCmd.AddCommand(groupExpireCmd)
}

func openGroupSession(cfg *config.Config) (*adminSession, error) {
	as := groupAs
	if as == "" {
		as = cfg.Admin.Username
	}
	return newAdminSession(cfg, as, groupPassword)
}

var groupAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a new group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		session, err := openGroupSession(cfg)
		if err != nil {
			return err
		}

		resp := session.do(node.AddGroup(session.as, args[0], nil))
		if resp.Err != nil {
			return fmt.Errorf("failed to add group: %w", resp.Err)
		}
		if err := session.persist(); err != nil {
			return err
		}

		cmd.Printf("Created group %q (id %s)\n", args[0], resp.UserId)
		return nil
	},
}

var groupExpireDuration time.Duration
var groupExpireClear bool

var groupExpireCmd = &cobra.Command{
	Use:   "expire <name>",
	Short: "Set or clear a group's expiration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		session, err := openGroupSession(cfg)
		if err != nil {
			return err
		}

		var change *node.ExpirationChange
		switch {
		case groupExpireClear:
			change = &node.ExpirationChange{At: nil}
		case groupExpireDuration > 0:
			at := time.Now().Add(groupExpireDuration)
			change = &node.ExpirationChange{At: &at}
		default:
			return fmt.Errorf("either --in or --clear must be given")
		}

		resp := session.do(node.ModifyGroup(session.as, args[0], change))
		if resp.Err != nil {
			return fmt.Errorf("failed to update expiration: %w", resp.Err)
		}
		if err := session.persist(); err != nil {
			return err
		}

		cmd.Printf("Updated expiration for %q\n", args[0])
		return nil
	},
}

func init() {
	groupExpireCmd.Flags().DurationVar(&groupExpireDuration, "in", 0, "expire the group this far in the future")
	groupExpireCmd.Flags().BoolVar(&groupExpireClear, "clear", false, "remove the group's expiration")
}
