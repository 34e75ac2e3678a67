package cmd

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/dydact/scrive-aci-sub002/db"
)

const embeddedMigrationsDir = "migrations"

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "Apply, roll back or list the billing schema migrations",
	}
	migrateRollback bool
	migrateStatus   bool
	migrateDir      string
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "roll back the latest applied migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print applied and pending migrations")
	migrateCmd.PersistentFlags().StringVarP(&migrateDir, "dir", "d", "", "read migrations from this directory instead of the embedded set")
}

func runMigration(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	conn, err := goose.OpenDBWithDriver("pgx", cfg.Database.Source)
	if err != nil {
		return fmt.Errorf("goose: failed to open DB: %w", err)
	}
	defer conn.Close()
	goose.SetTableName("schema_migrations")

	dir := migrateDir
	if dir == "" {
		goose.SetBaseFS(db.Migrations)
		dir = embeddedMigrationsDir
	}

	command := "up"
	switch {
	case migrateStatus:
		command = "status"
	case migrateRollback:
		command = "down"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := goose.RunContext(ctx, command, conn, dir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
