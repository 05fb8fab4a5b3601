package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arloq/notifyd/internal/config"
	notifyserver "github.com/arloq/notifyd/server"
)

// newServeCommand builds `notifyd serve`, binding config.Properties onto
// its flags the way roach88-nysm's cli/run.go binds a cobra command's
// flags onto a typed config struct before handing it to the long-running
// component.
func newServeCommand() *cobra.Command {
	cfg := config.Defaults()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification service until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ServerUUID == "" {
				cfg.ServerUUID = notifyserver.NewServerUUID()
			}
			if err := config.ApplyEnv(&cfg); err != nil {
				return err
			}

			log := newLogger(cfg.LogLevel)

			srv, err := notifyserver.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Str("listen_addr", srv.Addr()).Str("server_uuid", cfg.ServerUUID).Msg("notifyd starting")
			return srv.Run(ctx)
		},
	}

	apply := config.BindFlags(cmd.Flags(), &cfg)
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		apply()
		return nil
	}

	return cmd
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}
