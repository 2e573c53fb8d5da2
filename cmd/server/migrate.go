package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/spf13/cobra"
)

func NewMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the PostgreSQL schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("database DSN cannot be empty, use --dsn or KITE_DATABASE_DSN")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("KITE_DATABASE_DSN"), "database connection string")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd, dsn, true)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd, dsn, false)
			},
		},
	)

	return cmd
}

func runMigrate(cmd *cobra.Command, dsn string, up bool) error {
	version, err := database.Migrate(dsn, up)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}
