package session

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
)

// SessionCmd is the parent command for session operations
var SessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sessions whose window has closed",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		n, err := bundle.Core.Sessions.PurgeExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}
		fmt.Printf("Purged %d expired session(s)\n", n)
		return nil
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon SESSION_ID",
	Short: "Abandon a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.NewCoreBundle(cmd.Context())
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Core.Sessions.Abandon(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Abandoned session %s\n", args[0])
		return nil
	},
}

func init() {
	SessionCmd.AddCommand(purgeCmd)
	SessionCmd.AddCommand(abandonCmd)
}
