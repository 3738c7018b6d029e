package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/app"
	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/log"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	addr       string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "wirecall",
		Short:         "Signaling server for one-to-one WebRTC video calls",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "HTTP listen address (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	})
	root.AddCommand(newTokenCmd(flags))
	return root
}

func loadConfig(flags *rootFlags) (config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("info")
	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return cfg, bootLogger, err
	}
	cfg.UpdateFrom(config.Config{Addr: flags.addr, LogLevel: flags.logLevel})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting wirecall server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <identity>",
		Short: "Issue a signed identity token using the configured jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			token, err := identity.GenerateToken(&identity.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      ttl,
			}, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
