package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/careline/careline-server/internal/app"
	"github.com/careline/careline-server/internal/auth"
	"github.com/careline/careline-server/internal/config"
	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/log"
	"github.com/careline/careline-server/internal/store/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "careline-server",
		Short:        "Patient/doctor messaging server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(createDoctorCmd(&configPath))

	return root
}

func serveCmd(configPath *string) *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the messaging server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting careline server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&overrides.DatabasePath, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

// createDoctorCmd provisions the doctor account patients are matched with.
func createDoctorCmd(configPath *string) *cobra.Command {
	var username, password, name string

	cmd := &cobra.Command{
		Use:   "create-doctor",
		Short: "Provision a doctor account",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New("info")
			cfg, _, err := config.Load(logger, *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if name == "" {
				name = username
			}

			hashed, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			user, err := st.CreateUser(cmd.Context(), username, name, hashed, core.RoleDoctor)
			if err != nil {
				return fmt.Errorf("create doctor: %w", err)
			}

			logger.Info().Int64("id", user.ID).Str("username", user.Username).Msg("doctor provisioned")
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login username")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
