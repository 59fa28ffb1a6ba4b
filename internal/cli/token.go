package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/auth"
)

// NewTokenCmd создаёт команду выпуска токена для локальной разработки.
func NewTokenCmd(outputFn func() *Output) *cobra.Command {
	var secret string
	var identity auth.Identity
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken(secret, identity, ttl)
			if err != nil {
				return err
			}
			outputFn().Line(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret of the API")
	cmd.Flags().StringVar(&identity.UserID, "user", "cli", "User ID")
	cmd.Flags().StringVar(&identity.OrganizationID, "organization", "", "Organization ID")
	cmd.Flags().StringVar(&identity.EnvironmentID, "environment", "", "Environment ID")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("secret")
	cmd.MarkFlagRequired("organization")
	cmd.MarkFlagRequired("environment")

	return cmd
}
