package role

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
)

var (
	descriptionFlag string
	usersInput      []string
)

// RoleCmd is the parent command for role operations
var RoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles and user membership",
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		role, err := bundle.Core.Roles.CreateRole(cmd.Context(), args[0], descriptionFlag, bundle.System)
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		fmt.Printf("Created role %s\n", role.Name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		roles, err := bundle.Core.Roles.GetAllRoles(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range roles {
			fmt.Printf("%-20s %-20s %s\n", r.Name, r.CreatedAt.Format(time.RFC3339), r.Description)
		}
		return nil
	},
}

var addMemberCmd = &cobra.Command{
	Use:   "add-member ROLE...",
	Short: "Add users to roles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(usersInput) == 0 {
			return fmt.Errorf("at least one user must be specified using --user")
		}
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Core.Roles.AddUsersToRoles(cmd.Context(), usersInput, args, bundle.System); err != nil {
			return err
		}
		fmt.Printf("Added %d user(s) to %d role(s)\n", len(usersInput), len(args))
		return nil
	},
}

var removeMemberCmd = &cobra.Command{
	Use:   "remove-member ROLE...",
	Short: "Remove users from roles",
	Long:  `Removes every --user from every role. Nothing changes unless every membership exists.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(usersInput) == 0 {
			return fmt.Errorf("at least one user must be specified using --user")
		}
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Core.Roles.RemoveUsersFromRoles(cmd.Context(), usersInput, args, bundle.System); err != nil {
			return err
		}
		fmt.Printf("Removed %d user(s) from %d role(s)\n", len(usersInput), len(args))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&descriptionFlag, "description", "", "Role description")
	addMemberCmd.Flags().StringSliceVar(&usersInput, "user", []string{}, "User name(s)")
	removeMemberCmd.Flags().StringSliceVar(&usersInput, "user", []string{}, "User name(s)")

	RoleCmd.AddCommand(createCmd)
	RoleCmd.AddCommand(listCmd)
	RoleCmd.AddCommand(addMemberCmd)
	RoleCmd.AddCommand(removeMemberCmd)
}
