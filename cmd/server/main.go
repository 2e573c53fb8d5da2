package main

import (
	"log/slog"
	"os"

	"github.com/npezzotti/kite-relay/internal/config"
	"github.com/spf13/cobra"
)

func NewKiteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kite",
		Short:        "kite relays support conversations between chat widgets and messenger bots",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
	)

	return cmd
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(h).With("app", "kite"), nil
}

func main() {
	cmd := NewKiteCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
