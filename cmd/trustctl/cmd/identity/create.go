package identity

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	"github.com/santedb/santedb-server-sub007/internal/auth"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

var (
	secretFlag string
	stdinFlag  bool
	rolesInput []string
	claimInput []string
)

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		secret, err := cmdutil.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), secretFlag, stdinFlag)
		if err != nil {
			return err
		}

		claims := make([]auth.Claim, 0, len(claimInput))
		for _, raw := range claimInput {
			typ, value, ok := strings.Cut(raw, "=")
			if !ok || strings.TrimSpace(typ) == "" {
				return fmt.Errorf("invalid claim %q (want type=value)", raw)
			}
			claims = append(claims, auth.CustomClaim(strings.TrimSpace(typ), value))
		}

		return withProvider(cmd.Context(), func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error {
			ctx := cmd.Context()
			if len(rolesInput) > 0 && p.Kind() != auth.KindUser {
				return fmt.Errorf("--role applies to user identities only")
			}

			id, err := p.CreateIdentity(ctx, name, secret, b.System)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", p.Kind(), err)
			}

			for _, c := range claims {
				if err := p.AddClaim(ctx, id.Name, c, b.System); err != nil {
					return fmt.Errorf("failed to add claim %s: %w", c, err)
				}
			}
			if len(rolesInput) > 0 {
				if err := b.Core.Roles.AddUsersToRoles(ctx, []string{id.Name}, rolesInput, b.System); err != nil {
					return fmt.Errorf("failed to assign roles: %w", err)
				}
			}

			fmt.Printf("Created %s identity\n", p.Kind())
			fmt.Printf("  Name: %s\n", id.Name)
			fmt.Printf("  SID:  %s\n", id.SID)
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&secretFlag, "secret", "", "Secret for the identity")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read the secret from stdin")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Additional role(s) for a user identity")
	createCmd.Flags().StringSliceVar(&claimInput, "claim", []string{}, "Claim(s) to attach, as type=value")
}
