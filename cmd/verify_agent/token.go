package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/config"
	"github.com/jonathan/onboarding-verifier/internal/server"
	"github.com/jonathan/onboarding-verifier/internal/server/middleware"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local development",
	Long:  "Sign an HS256 token with JWT_SECRET. Production tokens come from the platform's identity service.",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID (a random one when omitted)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleStudent, "Role: student or admin")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	userID := uuid.New()
	if tokenUser != "" {
		var err error
		if userID, err = uuid.Parse(tokenUser); err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtConfig).GenerateToken(userID, tokenRole)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
