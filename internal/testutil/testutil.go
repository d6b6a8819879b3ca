// Package testutil provides shared test infrastructure for integration tests
// that need a real Postgres server.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    pg := testutil.StartPostgres(t)
//	    store, err := kv.OpenPostgres(ctx, pg.DSN)
//	    ...
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a throwaway Postgres container for t and terminates
// it when the test ends. The test is skipped under -short or when no
// container runtime is reachable.
func StartPostgres(t *testing.T) *TestContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("testutil: postgres container skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "cramsino",
			"POSTGRES_PASSWORD": "cramsino",
			"POSTGRES_DB":       "cramsino",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("testutil: start postgres container: %v", err)
	}
	tc := &TestContainer{Container: container}
	t.Cleanup(tc.Terminate)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("testutil: container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("testutil: container port: %v", err)
	}
	tc.DSN = fmt.Sprintf("postgres://cramsino:cramsino@%s:%s/cramsino?sslmode=disable", host, port.Port())
	return tc
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	if tc.Container != nil {
		_ = tc.Container.Terminate(context.Background())
	}
}

// TestLogger returns a logger that only prints errors, to keep test output quiet.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
