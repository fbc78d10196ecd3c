package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	"github.com/santedb/santedb-server-sub007/internal/auth"
	identitysvc "github.com/santedb/santedb-server-sub007/internal/services/identity"
)

var showCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show an identity, its claims and credential state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(cmd.Context(), func(b *cmdutil.CoreBundle, p *identitysvc.Provider) error {
			ctx := cmd.Context()
			status, err := p.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			if status == nil {
				return fmt.Errorf("%s %q not found", p.Kind(), args[0])
			}
			id, err := p.GetIdentity(ctx, status.Name)
			if err != nil {
				return err
			}

			fmt.Printf("Name:            %s\n", status.Name)
			fmt.Printf("SID:             %s\n", status.SID)
			fmt.Printf("Kind:            %s\n", status.Kind)
			fmt.Printf("Locked:          %t\n", status.Locked)
			fmt.Printf("Failed attempts: %d\n", status.FailedAttempts)
			fmt.Printf("Last auth:       %s\n", formatTime(status.LastAuthAt))
			fmt.Printf("Created:         %s\n", status.CreatedAt.Format(time.RFC3339))

			if p.Kind() == auth.KindUser {
				roles, err := b.Core.Roles.GetRolesForUser(ctx, status.Name)
				if err != nil {
					return err
				}
				fmt.Printf("Roles:           %s\n", strings.Join(roles, ", "))
			}

			fmt.Println("Claims:")
			for _, c := range id.Claims {
				fmt.Printf("  %s\n", c)
			}
			return nil
		})
	},
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
