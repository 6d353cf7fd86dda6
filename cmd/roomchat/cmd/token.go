package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/roomchat/internal/auth"
	"github.com/nfrund/roomchat/internal/config"
	"github.com/nfrund/roomchat/internal/domain"
)

var (
	tokenUserID   string
	tokenUsername string
	tokenTTL      time.Duration
	tokenSecret   string
	tokenIssuer   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development credential",
	Long: `Issue an HS256 credential the server accepts. The secret and issuer come
from JWT_SECRET and JWT_ISSUER unless given as flags.

Examples:
  roomchat token --user alice --name Alice
  roomchat token --user bob --ttl 1h --secret dev-secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, issuer := tokenSecret, tokenIssuer
		if secret == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			secret = cfg.JWTSecret
			if issuer == "" {
				issuer = cfg.JWTIssuer
			}
		}
		j, err := auth.NewJWT(secret, issuer)
		if err != nil {
			return err
		}
		username := tokenUsername
		if username == "" {
			username = tokenUserID
		}
		token, err := j.Issue(domain.Identity{UserID: tokenUserID, Username: username}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVarP(&tokenUserID, "user", "u", "", "User id (subject)")
	tokenCmd.Flags().StringVarP(&tokenUsername, "name", "n", "", "Display name (defaults to the user id)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "Lifetime of the credential")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "Issuer (defaults to JWT_ISSUER)")
	_ = tokenCmd.MarkFlagRequired("user")
}
