package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/config"
	dbmigrate "github.com/yannicktuerk/F1-Lap-Bot/pkg/db/migrate"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMigration()
		},
	}

	cmd.Flags().StringVarP(&config.MigrationSourceURL,
		"migrationSourceUrl",
		"m",
		"",
		"url to migration files (embedded migrations when empty)")

	return cmd
}

func startMigration() error {
	if config.MigrationSourceURL == "" {
		log.Info("Using embedded migrations", log.String("db", config.DB))
		if err := dbmigrate.MigrateDb(config.DB); err != nil {
			log.Fatal("Could not run migration", log.ErrorField(err))
		}
		return nil
	}

	log.Info("Using migrations files at", log.String("source", config.MigrationSourceURL))
	m, err := migrate.New(config.MigrationSourceURL,
		fmt.Sprintf("sqlite://%s", config.DB))
	if err != nil {
		log.Fatal("Could not create migration", log.ErrorField(err))
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("No Migration required")
		return nil
	}
	return err
}
