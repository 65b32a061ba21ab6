package main

import (
	"context"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tuannm99/novaexec"
	"github.com/tuannm99/novaexec/driver/pgxdriver"
	"github.com/tuannm99/novaexec/internal"
)

// driverPgxPool selects the native pgx adapter instead of database/sql.
const driverPgxPool = "pgxpool"

// openClient opens the configured source. "pgxpool" uses the native pgx
// adapter with real batching; any other name is a database/sql driver
// ("sqlite" and "pgx" are linked in).
func openClient(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*novaexec.Client, error) {
	opts := cfg.ClientOptions(logger)
	if cfg.Source.Driver != driverPgxPool {
		return novaexec.Open(cfg.Source.Driver, cfg.Source.DSN, opts)
	}

	src, err := pgxdriver.Open(ctx, cfg.Source.DSN)
	if err != nil {
		return nil, err
	}
	c, err := novaexec.New(src, opts)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return c.WithOwnedSource(), nil
}
