package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/config"
	"github.com/gatherly/server/internal/domain/users"
	"github.com/gatherly/server/internal/storage/postgres"
)

var (
	createUsername string
	createEmail    string
	createPassword string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an account directly in the database",
	Long: `Create a new account without going through the HTTP API.

Useful for seeding a fresh deployment:
  server create-user --username alice --email alice@example.com --password 's3cret-pass'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		repo, err := postgres.NewRepository(pool)
		if err != nil {
			return err
		}

		tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, "gatherly")
		service := users.NewService(repo.Users(), tokens, logger)

		user, err := service.Register(ctx, users.RegisterInput{
			Username: createUsername,
			Email:    createEmail,
			Password: createPassword,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&createUsername, "username", "", "username (required)")
	createUserCmd.Flags().StringVar(&createEmail, "email", "", "email address (required)")
	createUserCmd.Flags().StringVar(&createPassword, "password", "", "password (required)")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")
}
