package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.pilab.hu/toolgate/domain"
	"go.pilab.hu/toolgate/middleware"
)

func newDevTokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Sign a development session token",
		Long: `Signs an HS256 session token with the broker's jwt_secret. Only meant for
local development; production sessions come from the identity provider.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := v.GetString("jwt-secret")
			if secret == "" {
				return errors.New("jwt secret is required via --jwt-secret or TOOLGATECTL_JWT_SECRET")
			}
			sub, _ := cmd.Flags().GetString("sub")
			if sub == "" {
				return errors.New("subject is required via --sub flag")
			}
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := middleware.SignToken([]byte(secret), domain.Identity{
				UserID: sub,
				Email:  email,
				Name:   name,
				Role:   role,
			}, ttl, time.Now())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().String("jwt-secret", "", "shared HS256 secret")
	cmd.Flags().String("sub", "", "user id")
	cmd.Flags().String("email", "", "user email")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("role", domain.RoleUser, "user role")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = v.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))

	return cmd
}
