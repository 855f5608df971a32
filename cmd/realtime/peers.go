package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Bamba9016/vente/internal/discovery"
)

func peersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "List realtime instances announced on the local network",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to listen for announcements",
				Value: 3 * time.Second,
			},
		},
		Action: runPeers,
	}
}

func runPeers(c *cli.Context) error {
	cfg, logger, err := load(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait"))
	defer cancel()

	peers, err := discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain, logger)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Println("No instances found")
		return nil
	}
	for _, p := range peers {
		fmt.Printf("%s\t%s:%d\t%s\tbroker=%s\n", p.Instance, p.Host, p.Port, strings.Join(p.Addrs, ","), p.Text["broker"])
	}
	return nil
}
