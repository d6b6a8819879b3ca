package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores keys in a table of a shared Postgres database, for
// setups where several machines share one player profile.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings it and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kv: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cramsino_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: create table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Get returns the value for key or ErrNotFound.
func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM cramsino_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	err := withRetry(ctx, pgRetriable, func() error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO cramsino_kv (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	err := withRetry(ctx, pgRetriable, func() error {
		_, err := p.pool.Exec(ctx, `DELETE FROM cramsino_kv WHERE key = $1`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
