package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Bamba9016/vente/internal/auth"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Sign a connection token for a user",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User `ID` to sign for",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	if c.Int64("user") <= 0 {
		return fmt.Errorf("--user must be a positive id")
	}

	resolver, err := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.CookieName, nil)
	if err != nil {
		return err
	}
	tok, err := resolver.Mint(c.Int64("user"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
