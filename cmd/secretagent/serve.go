package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joncooperworks/secretagent/agent"
	"github.com/joncooperworks/secretagent/config"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/metrics"
	"github.com/joncooperworks/secretagent/overlay"
	"github.com/joncooperworks/secretagent/plugin"
	"github.com/joncooperworks/secretagent/provenance"
	"github.com/joncooperworks/secretagent/socket"
	"github.com/joncooperworks/secretagent/witness"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent in the foreground",
		Long: `Run the agent until interrupted. SIGINT and SIGTERM stop it. SIGHUP reloads
every store, drops cached certificates and republishes public keys.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	stores, err := openStores(ctx, cfg.Stores, logger)
	if err != nil {
		return err
	}

	w, closeWitness, err := buildWitness(cfg.Witness, logger)
	if err != nil {
		return err
	}
	defer closeWitness()

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	broadcaster := keystore.NewBroadcaster()
	certificates := overlay.New(cfg.PublicKeyDir, overlay.WithLogger(logger))
	republish := keyPublisher(cfg.PublicKeyDir, logger)
	republish(ctx, stores)

	tracer := provenance.NewTracer(provenance.NewInspector(), provenance.WithLogger(logger))
	listener, err := socket.Listen(cfg.SocketPath, socket.WithTracer(tracer), socket.WithLogger(logger))
	if err != nil {
		return err
	}
	defer listener.Close()

	dispatcher := agent.New(stores,
		agent.WithWitness(w),
		agent.WithOverlay(certificates),
		agent.WithBroadcaster(broadcaster),
		agent.WithMetrics(m),
		agent.WithLogger(logger),
		agent.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		agent.WithReloadHook(republish),
	)

	logger.Info("agent ready", "path", listener.Path(), "stores", len(stores.Stores()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Serve(ctx, dispatcher.ServeSession) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return certificates.Watch(ctx) })
	g.Go(func() error {
		hangups := make(chan os.Signal, 1)
		signal.Notify(hangups, syscall.SIGHUP)
		defer signal.Stop(hangups)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hangups:
				broadcaster.Publish(keystore.ReloadEvent{Source: "signal"})
			}
		}
	})
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return m.Serve(ctx, cfg.Metrics.Address, logger) })
	}

	err = g.Wait()
	logger.Info("agent stopped")
	return err
}

// openStores builds the configured stores in order.
func openStores(ctx context.Context, configs []config.StoreConfig, logger *slog.Logger) (*keystore.StoreList, error) {
	stores := keystore.NewStoreList()
	for i, sc := range configs {
		opts, err := sc.StoreOptions()
		if err != nil {
			return nil, fmt.Errorf("stores[%d]: %w", i, err)
		}
		opts.Logger = logger
		store, err := keystore.NewStore(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", sc.Kind, err)
		}
		logger.Info("store ready", "store", store.Name(), "secrets", len(store.Secrets()))
		stores.Add(store)
	}
	return stores, nil
}

// buildWitness assembles the configured witnesses. The returned function
// releases any loaded policy.
func buildWitness(cfg config.WitnessConfig, logger *slog.Logger) (agent.Witness, func(), error) {
	var chain witness.Chain
	if cfg.Audit {
		chain = append(chain, witness.NewLog(logger.With("component", "audit")))
	}
	if len(cfg.AllowedOrigins) > 0 || cfg.RequireIntact {
		rules, err := witness.NewRules(cfg.AllowedOrigins, cfg.RequireIntact)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, rules)
	}

	release := func() {}
	if cfg.Policy != nil {
		loaded, err := plugin.LoadPolicy(cfg.Policy.Kind, cfg.Policy.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load policy: %w", err)
		}
		policy := witness.NewPolicy(loaded)
		release = func() {
			if err := policy.Close(); err != nil {
				logger.Warn("failed to close policy", "error", err)
			}
		}
		logger.Info("policy loaded", "policy", loaded.Name(), "path", cfg.Policy.Path)
		chain = append(chain, policy)
	}

	if len(chain) == 0 {
		return nil, release, nil
	}
	return chain, release, nil
}
