package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Bamba9016/vente/internal/app"
	"github.com/Bamba9016/vente/internal/auth"
	"github.com/Bamba9016/vente/internal/config"
	"github.com/Bamba9016/vente/internal/discovery"
	"github.com/Bamba9016/vente/internal/hub"
	"github.com/Bamba9016/vente/internal/metrics"
	"github.com/Bamba9016/vente/internal/retry"
	"github.com/Bamba9016/vente/internal/server"
	"github.com/Bamba9016/vente/internal/session"
	"github.com/Bamba9016/vente/internal/store"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the websocket server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply database migrations before serving (postgres only)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, logger, err := load(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg.Store, retry.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if pg, ok := st.(*store.Postgres); ok && c.Bool("migrate") {
		if err := store.Migrate(ctx, pg.Pool()); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	transport, err := app.OpenTransport(ctx, cfg.Broker, retry.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open broker: %w", err)
	}
	defer transport.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	h := hub.New(transport.Broker, transport.Directory, logger, m)

	resolver, err := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.CookieName, st)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Store:    st,
		Hub:      h,
		Broker:   transport.Broker,
		Auth:     resolver,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	}, server.Options{
		HandshakeTimeout: cfg.HTTP.HandshakeTimeout,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AnonymousWatch:   cfg.Auth.AnonymousWatch,
		Session:          sessionConfig(cfg.WS, cfg.Store.Timeout),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(gctx)
	})
	if cfg.Broker.Driver == "redis" {
		g.Go(func() error {
			return h.KeepAlive(gctx, cfg.Broker.MembershipTTL/2)
		})
	}
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("store", cfg.Store.Driver).
			Str("broker", cfg.Broker.Driver).
			Str("instance", h.Instance()).
			Msg("realtime server starting")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Discovery.Enabled {
		g.Go(func() error {
			port, err := discovery.PortOf(cfg.HTTP.Addr)
			if err != nil {
				return err
			}
			err = discovery.Announce(gctx, discovery.Options{
				Service:  cfg.Discovery.Service,
				Domain:   cfg.Discovery.Domain,
				Port:     port,
				Instance: h.Instance(),
				Broker:   cfg.Broker.Driver,
			}, logger)
			if err != nil {
				// serving does not depend on being discoverable
				logger.Warn().Err(err).Msg("mdns announce failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		if err := httpServer.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := h.Close(sctx); err != nil {
			errs = append(errs, fmt.Errorf("leave groups: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func sessionConfig(ws config.WS, storeTimeout time.Duration) session.Config {
	cfg := session.DefaultConfig()
	cfg.SendBuffer = ws.SendBuffer
	cfg.PingInterval = ws.PingInterval
	cfg.PongWait = ws.PongWait
	cfg.WriteWait = ws.WriteWait
	cfg.MaxMessageBytes = ws.MaxMessageBytes
	cfg.RatePerSecond = ws.RatePerSecond
	cfg.RateBurst = ws.RateBurst
	if storeTimeout > 0 {
		cfg.HandleTimeout = storeTimeout
	}
	return cfg
}
