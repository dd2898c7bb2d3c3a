package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/pumpwatch/internal/app"
	"github.com/sawpanic/pumpwatch/internal/config"
)

// Execute builds and runs the root command. The process takes no
// flags; configuration is environment-first, see internal/config.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "pumpwatch",
		Short: "Streams exchange trades and announces outsized price moves",
		Long: `pumpwatch subscribes to public trade feeds on the configured
exchanges, tracks price movement over the configured look-back
windows and announces pumps and dumps to Telegram chats.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			configureLogging(cfg)
			return app.Run(cmd.Context(), cfg)
		},
	}
	return root.ExecuteContext(ctx)
}

// configureLogging applies the configured level and output format to
// the global logger and binds the process-wide fields.
func configureLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSONLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
		})
	}

	log.Logger = log.Logger.With().
		Str("version", config.Version).
		Str("environment", cfg.Environment).
		Logger()
}
