package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/fixfox-bot/internal/app"
	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "fixfox-bot",
		Short:         "FixFox is a Telegram assistant for repair orders and resumes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newMigrateCommand(logger))
	root.AddCommand(newSetWebhookCommand(logger))
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, workers and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			if err := sqlStore.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema migrated", "db_path", cfg.DBPath)
			cmd.Println("migrated " + cfg.DBPath)
			return nil
		},
	}
}

func newSetWebhookCommand(logger *slog.Logger) *cobra.Command {
	var (
		url    string
		secret string
	)
	command := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register the webhook URL and secret token with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if strings.TrimSpace(url) == "" {
				url = cfg.TelegramWebhookURL
			}
			if strings.TrimSpace(secret) == "" {
				secret = cfg.TelegramSecretToken
			}
			if strings.TrimSpace(url) == "" {
				return errors.New("webhook url is required (--url or FIXFOX_TELEGRAM_WEBHOOK_URL)")
			}
			client := telegram.NewClient(cfg.TelegramToken, cfg.TelegramAPI, 15*time.Second)
			if !client.Enabled() {
				return errors.New("FIXFOX_TELEGRAM_TOKEN is required")
			}
			if err := client.SetWebhook(cmd.Context(), url, secret); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			logger.Info("webhook registered", "url", url, "secret_token", secret != "")
			cmd.Println("webhook set to " + url)
			return nil
		},
	}
	command.Flags().StringVar(&url, "url", "", "public webhook URL (defaults to FIXFOX_TELEGRAM_WEBHOOK_URL)")
	command.Flags().StringVar(&secret, "secret", "", "secret token (defaults to FIXFOX_TELEGRAM_SECRET_TOKEN)")
	return command
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
