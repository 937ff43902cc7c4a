package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/config"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
	"github.com/asaidimu/go-anansi-sync/mysql"
	"github.com/asaidimu/go-anansi-sync/postgres"
	"github.com/asaidimu/go-anansi-sync/sqlite"
)

// provider is a query runner provider that owns its connections.
type provider interface {
	persistence.QueryRunnerProvider
	Close() error
}

type openFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (provider, error)

var drivers = map[string]openFunc{
	"sqlite": func(_ context.Context, cfg *config.Config, logger *zap.Logger) (provider, error) {
		return sqlite.Open(cfg.DSN, logger)
	},
	"postgres": func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (provider, error) {
		return postgres.Open(ctx, cfg.DSN, logger, &postgres.ProviderOptions{Schema: cfg.Schema})
	},
	"mysql": func(_ context.Context, cfg *config.Config, logger *zap.Logger) (provider, error) {
		return mysql.Open(cfg.DSN, logger)
	},
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func openProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (provider, error) {
	open, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q, expected one of %s", cfg.Driver, strings.Join(driverNames(), ", "))
	}
	p, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	return p, nil
}
