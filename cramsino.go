// Package cramsino is the public API for embedding the Cramsino presence
// relay.
//
// The relay accepts live attention statuses from monitoring clients over a
// websocket, keeps the latest one per client_id in memory, and answers
// point-in-time queries for it:
//
//	app, err := cramsino.New(
//	    cramsino.WithVersion(version),
//	    cramsino.WithLogger(logger),
//	    cramsino.WithStatusHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the reverse. Public types are
// standalone structs; the conversion helpers live here because this is the
// only file that sees both sides of the boundary.
package cramsino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cramsino/cramsino/api"
	"github.com/cramsino/cramsino/internal/config"
	"github.com/cramsino/cramsino/internal/mcp"
	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/presence"
	"github.com/cramsino/cramsino/internal/ratelimit"
	"github.com/cramsino/cramsino/internal/server"
	"github.com/cramsino/cramsino/internal/telemetry"
)

// ErrNotFound is returned by App.Status when nothing was ever published for
// the client_id.
var ErrNotFound = errors.New("cramsino: no status for client_id")

const shutdownTimeout = 10 * time.Second

// App is the relay lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        presence.Store
	hub          *server.Hub
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New wires the relay from environment configuration plus opts. It does NOT
// start any goroutines or accept connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.sweepInterval > 0 {
		cfg.SweepInterval = o.sweepInterval
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("cramsino relay starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	var store presence.Store = presence.NewMemoryStore()
	if len(o.statusHooks) > 0 {
		store = &hookedStore{Store: store, hooks: o.statusHooks, logger: logger}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	if cfg.StatusTTL > 0 {
		logger.Info("status ttl: enabled", "ttl", cfg.StatusTTL)
	}

	hub := server.NewHub(server.HubConfig{
		Store:         store,
		Logger:        logger,
		MaxFrameBytes: cfg.MaxFrameBytes,
		StatusTTL:     cfg.StatusTTL,
	})

	routes := make([]func(*http.ServeMux), 0, len(o.routeRegistrars))
	for _, r := range o.routeRegistrars {
		routes = append(routes, r)
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, m := range o.middlewares {
		middlewares = append(middlewares, m)
	}

	srv := server.New(server.ServerConfig{
		Store:        store,
		Hub:          hub,
		Logger:       logger,
		Limiter:      limiter,
		MCPServer:    mcp.New(store, logger, version).MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
		OpenAPISpec:  api.OpenAPISpec,
		ExtraRoutes:  routes,
		Middlewares:  middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		hub:          hub,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and for embedders that
// serve the relay on their own listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Status returns the latest status stored for clientID, or ErrNotFound.
func (a *App) Status(ctx context.Context, clientID string) (StatusRecord, error) {
	rec, err := a.store.Get(ctx, clientID)
	if errors.Is(err, presence.ErrNotFound) {
		return StatusRecord{}, ErrNotFound
	}
	if err != nil {
		return StatusRecord{}, err
	}
	return toPublicRecord(rec), nil
}

// Run serves HTTP and runs the liveness sweep until ctx is cancelled or the
// listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx, a.cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, closes
// every ingest connection and flushes telemetry. Statuses are not persisted.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("cramsino relay shutting down")

	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		errs = append(errs, err)
	}
	a.hub.CloseAll()
	_ = a.limiter.Close()
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", "error", err)
	}

	a.logger.Info("cramsino relay stopped")
	return errors.Join(errs...)
}

// hookedStore notifies StatusHooks after each successful Put.
type hookedStore struct {
	presence.Store
	hooks  []StatusHook
	logger *slog.Logger
}

func (s *hookedStore) Put(ctx context.Context, clientID string, status json.RawMessage) (model.StatusRecord, error) {
	rec, err := s.Store.Put(ctx, clientID, status)
	if err != nil {
		return rec, err
	}

	pub := toPublicRecord(rec)
	flags := toPublicFlags(rec.Flags())
	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range s.hooks {
		go func(h StatusHook) {
			if err := h.OnStatusPublished(hookCtx, pub, flags); err != nil {
				s.logger.Warn("status hook failed", "error", err, "client_id", pub.ClientID)
			}
		}(hook)
	}
	return rec, nil
}

func toPublicRecord(rec model.StatusRecord) StatusRecord {
	return StatusRecord{
		ClientID:  rec.ClientID,
		Status:    append(json.RawMessage(nil), rec.Status...),
		UpdatedAt: rec.UpdatedAt,
	}
}

func toPublicFlags(s model.Status) Flags {
	return Flags{
		FacePresent:    s.FacePresent,
		LookingForward: s.LookingForward,
		Talking:        s.Talking,
		Distracted:     s.Distracted,
	}
}
