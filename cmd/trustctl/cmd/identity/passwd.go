package identity

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

var (
	newSecretFlag string
	passwdStdin   bool
)

var passwdCmd = &cobra.Command{
	Use:   "passwd NAME",
	Short: "Change the secret of an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := cmdutil.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), newSecretFlag, passwdStdin)
		if err != nil {
			return err
		}
		return withProvider(cmd.Context(), func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error {
			if err := p.ChangeSecret(cmd.Context(), args[0], secret, b.System); err != nil {
				return err
			}
			fmt.Printf("Secret changed for %s %s\n", p.Kind(), args[0])
			return nil
		})
	},
}

func init() {
	passwdCmd.Flags().StringVar(&newSecretFlag, "secret", "", "New secret")
	passwdCmd.Flags().BoolVar(&passwdStdin, "stdin", false, "Read the new secret from stdin")
}
