package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Bamba9016/vente/internal/retry"
	"github.com/Bamba9016/vente/internal/store"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply database migrations to the postgres store",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, logger, err := load(c)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != "postgres" {
		fmt.Printf("Store driver %q has no migrations\n", cfg.Store.Driver)
		return nil
	}

	pg, err := store.OpenPostgres(c.Context, cfg.Store.DSN, retry.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer pg.Close()

	if err := store.Migrate(c.Context, pg.Pool()); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	fmt.Println("Migrations applied")
	return nil
}
