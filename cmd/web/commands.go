package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"readstate_backend/database"
	"readstate_backend/internal/app"
	"readstate_backend/internal/auth"
	"readstate_backend/internal/config"
	"readstate_backend/internal/logger"
)

// NewRootCommand: без подкоманды запускается сервер
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "readstate",
		Short:         "Unread counters and push fan-out for chats",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewTokenCommand())
	return cmd
}

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server, websocket hub and kafka consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}
}

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Server.Env)

			driver, dsn := app.DeviceDBTarget(cfg)
			db, err := database.OpenGorm(driver, dsn)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			logger.Info("Migrations applied", "driver", driver)
			return nil
		},
	}
}

type tokenOptions struct {
	userID string
	role   string
	ttl    time.Duration
	secret string
}

// NewTokenCommand выпускает bearer-токен для локальной отладки
func NewTokenCommand() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.userID == "" {
				return fmt.Errorf("--user is required")
			}
			if !auth.IsValidRole(opts.role) {
				return fmt.Errorf("unknown role %q", opts.role)
			}

			secret := opts.secret
			if secret == "" {
				cfg, err := config.LoadConfig()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
			}

			tok, err := auth.GenerateToken(secret, opts.userID, opts.role, opts.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id (sub)")
	cmd.Flags().StringVar(&opts.role, "role", auth.RoleUser, "role: user, service, admin")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "signing secret (default: jwt.secret from config)")
	return cmd
}
