package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/onechat-server/internal/app"
	"github.com/vovakirdan/onechat-server/internal/config"
	"github.com/vovakirdan/onechat-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath  string
	addr        string
	databaseURL string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "onechat-server",
		Short:         "Single-room WebSocket chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "listen address (overrides config)")
	root.PersistentFlags().StringVar(&flags.databaseURL, "db", "", "database URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	createAdminCmd := &cobra.Command{
		Use:   "create-admin <username>",
		Short: "Provision an admin account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateAdmin(cmd.Context(), flags, args[0])
		},
	}

	root.AddCommand(serveCmd, createAdminCmd)
	return root
}

// loadConfig resolves config from file, env, and flag overrides, and builds
// the logger at the configured level.
func loadConfig(flags *rootFlags) (config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("info")

	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:        flags.addr,
		DatabaseURL: flags.databaseURL,
		LogLevel:    flags.logLevel,
	})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := application.EnsureAdmin(ctx, cfg.InitAdminUsername); err != nil {
		application.Close()
		return err
	}

	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runCreateAdmin(ctx context.Context, flags *rootFlags, username string) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}
	return app.CreateAdmin(ctx, cfg, logger, username)
}
