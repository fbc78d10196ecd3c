package identity

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

var kindFlag string

// IdentityCmd is the parent command for identity operations
var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage user, application and device identities",
	Long: `Commands for creating, inspecting, locking and deleting identities.
Select the identity kind with --kind (default: user).`,
}

func init() {
	IdentityCmd.PersistentFlags().StringVar(&kindFlag, "kind", "user", "Identity kind: user, application or device")

	IdentityCmd.AddCommand(createCmd)
	IdentityCmd.AddCommand(showCmd)
	IdentityCmd.AddCommand(lockCmd)
	IdentityCmd.AddCommand(unlockCmd)
	IdentityCmd.AddCommand(deleteCmd)
	IdentityCmd.AddCommand(passwdCmd)
}

// withProvider opens the trust core and hands fn the provider for --kind.
func withProvider(ctx context.Context, fn func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error) error {
	kind, err := cmdutil.ParseKind(kindFlag)
	if err != nil {
		return err
	}

	bundle, err := cmdutil.NewCoreBundle(ctx)
	if err != nil {
		return err
	}
	defer bundle.Close()

	provider, err := bundle.Core.Provider(kind)
	if err != nil {
		return fmt.Errorf("failed to select provider: %w", err)
	}
	return fn(bundle, provider)
}
