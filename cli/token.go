package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/httpapi"
	"github.com/vinayprograms/orderclaim/lifecycle"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign a development bearer token",
	Long: `Sign an HS256 token with jwt_secret for local testing.

Production tokens come from the identity provider.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg := config.Load(viper.GetViper())
		if cfg.JWTSecret == "" {
			return fmt.Errorf("jwt_secret is required (flag --jwt-secret or ORDERCLAIM_JWT_SECRET)")
		}
		role := lifecycle.Role(tokenRole)
		if !role.Valid() || role == lifecycle.RoleSystem {
			return fmt.Errorf("role must be provider, customer or admin, got %q", tokenRole)
		}
		tok, err := httpapi.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer).IssueToken(args[0], role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(lifecycle.RoleCustomer), "provider | customer | admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
