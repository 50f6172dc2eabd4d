package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "github.com/Proximyst/ban/internal/jwt_token"
	"github.com/Proximyst/ban/internal/platform/config"
	"github.com/Proximyst/ban/pkg/domain"
)

func newTokenCmd() *cobra.Command {
	var (
		actor string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin API token",
		Long:  "Signs a bearer token for the admin API. Punishments issued with it are attributed to --actor.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.AdminJWTKey == "" {
				return errors.New("server.admin_jwt_key is not set")
			}
			svc := jwttoken.NewJWTService(cfg.Server.AdminJWTKey, jwttoken.Issuer, jwttoken.Audience)
			token, err := svc.GenerateAdminToken(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", domain.ActorConsole, "player UUID, console or system")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
