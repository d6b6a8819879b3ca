package kv

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

const (
	maxRetries     = 3
	retryBaseDelay = 20 * time.Millisecond
)

// pgRetriable reports Postgres errors that indicate a transient conflict.
func pgRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// sqliteRetriable reports SQLite busy and locked errors, which happen when
// another focus process holds the write lock.
func sqliteRetriable(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() & 0xff {
	case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
		return true
	default:
		return false
	}
}

// withRetry runs fn, retrying up to maxRetries times while retriable says
// so. Retries use jittered exponential backoff.
func withRetry(ctx context.Context, retriable func(error) bool, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !retriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
