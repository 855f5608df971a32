package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Bamba9016/vente/internal/app"
	"github.com/Bamba9016/vente/internal/retry"
	"github.com/Bamba9016/vente/internal/store"
)

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:   "seed",
		Usage:  "Create demo users and posts",
		Action: runSeed,
	}
}

func runSeed(c *cli.Context) error {
	cfg, logger, err := load(c)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(c.Context, cfg.Store, retry.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	users, posts, err := store.SeedDemo(c.Context, st)
	if err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}
	for _, u := range users {
		fmt.Printf("user %d\t%s\n", u.ID, u.Username)
	}
	for _, p := range posts {
		fmt.Printf("post %d\tby user %d\n", p.ID, p.AuthorID)
	}
	if len(users) == 0 {
		fmt.Println("Demo data already present")
	}
	return nil
}
