package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/cache"
	"github.com/sells-group/territory-engine/internal/engine"
	"github.com/sells-group/territory-engine/internal/provider"
	"github.com/sells-group/territory-engine/internal/resilience"
	"github.com/sells-group/territory-engine/internal/resolver"
	"github.com/sells-group/territory-engine/internal/store"
)

// env holds the wired engine and its store for command lifetimes.
type env struct {
	Engine *engine.Engine
	Store  store.Store
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// initEngine wires providers, resolver, cache, and store into an engine.
func initEngine(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	clients := []provider.Client{
		provider.NewGridOp(cfg.Providers.GridOp.BaseURL,
			provider.WithGridOpRateLimit(cfg.Providers.GridOp.RPS)),
		provider.NewRegulator(cfg.Providers.Regulator.BaseURL, cfg.Providers.Regulator.APIKey,
			provider.WithRegulatorRateLimit(cfg.Providers.Regulator.RPS)),
	}
	for _, uc := range cfg.Providers.Utilities {
		clients = append(clients, provider.NewUtility(uc))
	}

	var table *provider.CoverageTable
	if cfg.Providers.CoverageTablePath != "" {
		table, err = provider.LoadCoverageTable(cfg.Providers.CoverageTablePath)
		if err != nil {
			st.Close()
			return nil, eris.Wrap(err, "load coverage table")
		}
	}

	factory := provider.NewFactory(clients, table)
	res := resolver.New(cfg.Resolver)
	fb := resolver.NewFallbackLocator(st, cfg.Resolver)
	c := cache.New(st, cfg.Cache)
	breakers := resilience.NewProviderBreakers(cfg.Breaker)

	eng := engine.New(factory, res, fb, c, st, breakers, engine.Options{
		ProviderTimeout: cfg.Providers.ProviderTimeout(),
		Region:          cfg.Region,
		Retry:           cfg.Retry,
		Bulk:            cfg.Bulk,
	})

	zap.L().Info("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("providers", len(clients)),
	)
	return &env{Engine: eng, Store: st}, nil
}
