package policy

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/cmdutil"
	"github.com/santedb/santedb-server-sub007/internal/auth"
)

var (
	roleFlag     string
	identityFlag string
	kindFlag     string
	grantFlag    string
)

// PolicyCmd is the parent command for policy operations
var PolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the policy catalog and manage grants",
	Long: `Grants attach to a role (--role) or directly to an identity
(--identity with --kind).`,
}

// subject resolves --role or --identity/--kind to a casbin subject.
func subject(ctx context.Context, b *cmdutil.CoreBundle) (string, error) {
	switch {
	case roleFlag != "" && identityFlag != "":
		return "", fmt.Errorf("--role and --identity are mutually exclusive")
	case roleFlag != "":
		role, err := b.Core.Roles.GetRole(ctx, roleFlag)
		if err != nil {
			return "", err
		}
		if role == nil {
			return "", fmt.Errorf("role %q not found", roleFlag)
		}
		return auth.RoleSubject(role.Name), nil
	case identityFlag != "":
		id, err := lookupIdentity(ctx, b)
		if err != nil {
			return "", err
		}
		return id.Subject(), nil
	default:
		return "", fmt.Errorf("one of --role or --identity is required")
	}
}

func lookupIdentity(ctx context.Context, b *cmdutil.CoreBundle) (*auth.Identity, error) {
	kind, err := cmdutil.ParseKind(kindFlag)
	if err != nil {
		return nil, err
	}
	provider, err := b.Core.Provider(kind)
	if err != nil {
		return nil, err
	}
	id, err := provider.GetIdentity(ctx, identityFlag)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("%s %q not found", kind, identityFlag)
	}
	return id, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the policy catalog, or the grants held by a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bundle, err := cmdutil.NewCoreBundle(ctx)
		if err != nil {
			return err
		}
		defer bundle.Close()

		if roleFlag == "" && identityFlag == "" {
			policies, err := bundle.Core.Policies.GetPolicies(ctx)
			if err != nil {
				return err
			}
			for _, p := range policies {
				elevate := ""
				if p.CanElevate {
					elevate = "elevatable"
				}
				fmt.Printf("%-28s %-32s %s\n", p.OID, p.Name, elevate)
			}
			return nil
		}

		sub, err := subject(ctx, bundle)
		if err != nil {
			return err
		}
		grants, err := bundle.Core.Policies.GetSubjectPolicies(ctx, sub)
		if err != nil {
			return err
		}
		fmt.Printf("Grants held by %s:\n", sub)
		for _, g := range grants {
			fmt.Printf("  %-28s %s\n", g.OID, g.Grant)
		}
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant OID...",
	Short: "Set a grant for policies on a subject",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grant, err := auth.ParseGrant(grantFlag)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		bundle, err := cmdutil.NewCoreBundle(ctx)
		if err != nil {
			return err
		}
		defer bundle.Close()

		sub, err := subject(ctx, bundle)
		if err != nil {
			return err
		}
		if err := bundle.Core.Policies.AddPolicies(ctx, sub, grant, args, bundle.System); err != nil {
			return err
		}
		fmt.Printf("Set %s on %d policy(ies) for %s\n", grant, len(args), sub)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke OID...",
	Short: "Remove grants for policies from a subject",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bundle, err := cmdutil.NewCoreBundle(ctx)
		if err != nil {
			return err
		}
		defer bundle.Close()

		sub, err := subject(ctx, bundle)
		if err != nil {
			return err
		}
		if err := bundle.Core.Policies.RemovePolicies(ctx, sub, args, bundle.System); err != nil {
			return err
		}
		fmt.Printf("Revoked %d policy(ies) from %s\n", len(args), sub)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check OID...",
	Short: "Show the effective grant of policies for an identity",
	Long: `Evaluates each policy for --identity as if it had just authenticated,
combining its direct grants with those of its roles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if identityFlag == "" {
			return fmt.Errorf("--identity is required")
		}
		ctx := cmd.Context()
		bundle, err := cmdutil.NewCoreBundle(ctx)
		if err != nil {
			return err
		}
		defer bundle.Close()

		id, err := lookupIdentity(ctx, bundle)
		if err != nil {
			return err
		}
		principal := auth.NewPrincipal(auth.MarkAuthenticated(id, auth.MethodSystem))
		for _, oid := range args {
			grant, err := bundle.Core.Policies.GetPolicyInstance(ctx, principal, oid)
			if err != nil {
				return err
			}
			fmt.Printf("%-28s %s\n", oid, grant)
		}
		return nil
	},
}

func init() {
	PolicyCmd.PersistentFlags().StringVar(&roleFlag, "role", "", "Role name")
	PolicyCmd.PersistentFlags().StringVar(&identityFlag, "identity", "", "Identity name")
	PolicyCmd.PersistentFlags().StringVar(&kindFlag, "kind", "user", "Identity kind: user, application or device")
	grantCmd.Flags().StringVar(&grantFlag, "grant", "grant", "Grant type: grant, elevate or deny")

	PolicyCmd.AddCommand(listCmd)
	PolicyCmd.AddCommand(grantCmd)
	PolicyCmd.AddCommand(revokeCmd)
	PolicyCmd.AddCommand(checkCmd)
}
