package identity

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Obsolete an identity",
	Long: `Marks the identity obsolete. Its SID stays resolvable for audit and
the name becomes available again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd.Context(), func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error {
			if err := p.DeleteIdentity(cmd.Context(), args[0], b.System); err != nil {
				return err
			}
			fmt.Printf("Deleted %s %s\n", p.Kind(), args[0])
			return nil
		})
	},
}
