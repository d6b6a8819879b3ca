// Package kv persists the focus client's small string-keyed state: the
// ledger counters and the active quest record.
package kv

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the Postgres store when databaseURL is set and the SQLite
// store at sqlitePath otherwise.
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *slog.Logger) (Store, error) {
	if databaseURL != "" {
		logger.Debug("kv: using postgres")
		return OpenPostgres(ctx, databaseURL)
	}
	logger.Debug("kv: using sqlite", "path", sqlitePath)
	return OpenSQLite(ctx, sqlitePath)
}
