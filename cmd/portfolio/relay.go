package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/db"
	"portfolio-chat-backend/internal/relay"
	"portfolio-chat-backend/internal/server"
	"portfolio-chat-backend/internal/store"
)

func newRelayCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the contact submission endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var notifier relay.Notifier = relay.LogNotifier{}
			if cfg.SMTPHost != "" {
				to := cfg.NotifyTo
				if len(to) == 0 && cfg.OwnerEmail != "" {
					to = []string{cfg.OwnerEmail}
				}
				n, err := relay.NewSMTPNotifier(relay.SMTPConfig{
					Host:     cfg.SMTPHost,
					Port:     cfg.SMTPPort,
					Username: cfg.SMTPUser,
					Password: cfg.SMTPPass,
					To:       to,
				})
				if err != nil {
					return err
				}
				notifier = n
			} else {
				log.Warn().Msg("SMTP_HOST not set; submissions are only logged")
			}

			var recorder relay.Recorder
			switch {
			case cfg.DatabaseURL != "":
				database, err := db.New(ctx, cfg.DatabaseURL)
				if err != nil {
					return errors.Wrap(err, "failed to initialize database")
				}
				defer database.Close()
				if err := database.RunMigrations(ctx, db.Migrations()); err != nil {
					return errors.Wrap(err, "failed to run migrations")
				}
				log.Info().Msg("database connection established")
				recorder = store.NewDatabaseStore(database)
			case cfg.RelaySubmissionsFile != "":
				recorder = store.NewFileSubmissionStore(cfg.RelaySubmissionsFile)
			default:
				log.Warn().Msg("DB_URL not provided; submissions are not recorded")
			}

			h := relay.New(notifier, recorder, relay.Options{
				AllowedOrigin: cfg.RelayAllowedOrigin,
				RatePerMinute: cfg.RelayRatePerMinute,
				Burst:         cfg.RelayBurst,
				TrustProxy:    cfg.RelayTrustProxy,
				AdminToken:    cfg.RelayAdminToken,
			})
			return server.Serve(ctx, ":"+cfg.RelayPort, h)
		},
	}
	cmd.Flags().StringVar(&cfg.RelayPort, "port", cfg.RelayPort, "HTTP port")
	return cmd
}
