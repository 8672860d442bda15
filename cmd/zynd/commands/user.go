package commands

import (
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/config"
	"github.com/marmos91/dittofs/pkg/node"
	"github.com/spf13/cobra"
)

var (
	userAs       string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users in the workdir's authority",
}

func init() {
	userCmd.PersistentFlags().StringVar(&userAs, "as", "", "username to authenticate as (default: config's admin.username)")
	userCmd.PersistentFlags().StringVar(&userPassword, "password", "", "password for --as (prompted if omitted)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userExpireCmd)
}

func openUserSession(cfg *config.Config) (*adminSession, error) {
	as := userAs
	if as == "" {
		as = cfg.Admin.Username
	}
	return newAdminSession(cfg, as, userPassword)
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		session, err := openUserSession(cfg)
		if err != nil {
			return err
		}

		password, err := promptPasswordWithConfirmation("New user password")
		if err != nil {
			return err
		}

		resp := session.do(node.AddUser(session.as, args[0], password, nil))
		if resp.Err != nil {
			return fmt.Errorf("failed to add user: %w", resp.Err)
		}
		if err := session.persist(); err != nil {
			return err
		}

		cmd.Printf("Created user %q (id %s)\n", args[0], resp.UserId)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		session, err := openUserSession(cfg)
		if err != nil {
			return err
		}

		newPassword, err := promptPasswordWithConfirmation("New password")
		if err != nil {
			return err
		}

		resp := session.do(node.ModifyUser(session.as, args[0], &newPassword, nil))
		if resp.Err != nil {
			return fmt.Errorf("failed to change password: %w", resp.Err)
		}
		if err := session.persist(); err != nil {
			return err
		}

		cmd.Printf("Updated password for %q\n", args[0])
		return nil
	},
}

var userExpireDuration time.Duration
var userExpireClear bool

var userExpireCmd = &cobra.Command{
	Use:   "expire <username>",
	Short: "Set or clear a user's expiration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		session, err := openUserSession(cfg)
		if err != nil {
			return err
		}

		var change *node.ExpirationChange
		switch {
		case userExpireClear:
			change = &node.ExpirationChange{At: nil}
		case userExpireDuration > 0:
			at := time.Now().Add(userExpireDuration)
			change = &node.ExpirationChange{At: &at}
		default:
			return fmt.Errorf("either --in or --clear must be given")
		}

		resp := session.do(node.ModifyUser(session.as, args[0], nil, change))
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
	userExpireCmd.Flags().DurationVar(&userExpireDuration, "in", 0, "expire the user this far in the future")
	userExpireCmd.Flags().BoolVar(&userExpireClear, "clear", false, "remove the user's expiration")
}
