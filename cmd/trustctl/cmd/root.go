package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/identity"
	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/policy"
	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/role"
	"github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd/session"
	"github.com/santedb/santedb-server-sub007/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "trustctl",
	Short: "Administer identities, policies and sessions of the trust core",
	Long: `trustctl manages the trust core database: schema migrations, user,
application and device identities, roles, policy grants and sessions.
Every command runs as the SYSTEM identity.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: TRUST_DATABASE_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: TRUST_DEBUG)")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(identity.IdentityCmd)
	rootCmd.AddCommand(role.RoleCmd)
	rootCmd.AddCommand(policy.PolicyCmd)
	rootCmd.AddCommand(session.SessionCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
