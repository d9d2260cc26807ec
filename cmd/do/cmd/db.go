package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/db"
)

func MigrateCmd() *cobra.Command {
	var down bool
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if down {
				database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
				if err != nil {
					return fmt.Errorf("failed to initialize database: %w", err)
				}
				defer db.Close(database)
				return db.MigrateDown(database.DB, cfg.DBDriver)
			}

			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close(database)

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
	c.Flags().BoolVar(&down, "down", false, "roll back the most recent migration instead")
	return c
}

// openDB connects and migrates, the same way the server starts up.
func openDB(cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database.DB, cfg.DBDriver); err != nil {
		db.Close(database)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}
