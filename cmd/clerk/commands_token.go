package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/advisorlabs/clerk/internal/server"
	"github.com/advisorlabs/clerk/pkg/models"
)

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		Long:  "Mint a signed JWT for API access, using the configured auth secret.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			svc := server.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
			token, err := svc.Generate(models.UserRef{ID: userID, Email: email, Name: name})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&email, "email", "", "User email claim")
	cmd.Flags().StringVar(&name, "name", "", "User display name claim")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
