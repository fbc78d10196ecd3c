package identity

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

func setLockout(locked bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd.Context(), func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error {
			if err := p.SetLockout(cmd.Context(), args[0], locked, b.System); err != nil {
				return err
			}
			state := "Unlocked"
			if locked {
				state = "Locked"
			}
			fmt.Printf("%s %s %s\n", state, p.Kind(), args[0])
			return nil
		})
	}
}

var lockCmd = &cobra.Command{
	Use:   "lock NAME",
	Short: "Lock an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  setLockout(true),
}

var unlockCmd = &cobra.Command{
	Use:   "unlock NAME",
	Short: "Unlock an identity and reset its failure count",
	Args:  cobra.ExactArgs(1),
	RunE:  setLockout(false),
}
