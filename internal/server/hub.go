package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/presence"
	"github.com/cramsino/cramsino/internal/telemetry"
)

// pingWait bounds how long a single ping control frame may take to write.
const pingWait = 5 * time.Second

// peer is one open ingest connection.
type peer struct {
	conn   *websocket.Conn
	remote string

	// alive is cleared by each sweep and set again by a pong.
	alive atomic.Bool
}

// Hub accepts ingest connections from monitoring clients, writes every valid
// frame into the status store and reclaims connections that stop answering
// pings.
//
// Nothing is ever written to a publisher except ping control frames, so the
// only writer per connection is the sweep; gorilla allows WriteControl
// concurrently with the read loop.
type Hub struct {
	store         presence.Store
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	maxFrameBytes int64
	statusTTL     time.Duration
	now           func() time.Time

	mu    sync.Mutex
	peers map[*peer]struct{}

	frames     metric.Int64Counter
	dropped    metric.Int64Counter
	terminated metric.Int64Counter
}

// HubConfig configures a Hub. Zero MaxFrameBytes means no read limit; zero
// StatusTTL disables eviction of idle records.
type HubConfig struct {
	Store         presence.Store
	Logger        *slog.Logger
	MaxFrameBytes int64
	StatusTTL     time.Duration
}

// NewHub creates a hub and registers its metrics with the global meter.
func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		store:         cfg.Store,
		logger:        cfg.Logger,
		maxFrameBytes: cfg.MaxFrameBytes,
		statusTTL:     cfg.StatusTTL,
		now:           time.Now,
		peers:         make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			// Any origin may publish.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.registerMetrics()
	return h
}

func (h *Hub) registerMetrics() {
	meter := telemetry.Meter("cramsino/relay")

	h.frames, _ = meter.Int64Counter("cramsino.ingest.frames",
		metric.WithDescription("Ingest frames accepted into the status store"))
	h.dropped, _ = meter.Int64Counter("cramsino.ingest.dropped",
		metric.WithDescription("Ingest frames dropped as malformed"))
	h.terminated, _ = meter.Int64Counter("cramsino.sweep.terminated",
		metric.WithDescription("Connections closed for missing a pong"))

	_, _ = meter.Int64ObservableGauge("cramsino.connections.open",
		metric.WithDescription("Open ingest connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("cramsino.status.sessions",
		metric.WithDescription("Client IDs with a stored status"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.store.Len()))
			return nil
		}),
	)
}

// ServeHTTP upgrades the request to a websocket and reads ingest frames until
// the connection fails or is terminated by the sweep.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("hub: upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	p := &peer{conn: conn, remote: r.RemoteAddr}
	p.alive.Store(true)
	if h.maxFrameBytes > 0 {
		conn.SetReadLimit(h.maxFrameBytes)
	}
	conn.SetPongHandler(func(string) error {
		p.alive.Store(true)
		return nil
	})

	h.add(p)
	defer h.remove(p)

	h.logger.Debug("hub: publisher connected", "remote", p.remote)
	h.readLoop(context.WithoutCancel(r.Context()), p)
}

func (h *Hub) readLoop(ctx context.Context, p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("hub: connection closed", "remote", p.remote, "error", err)
			}
			return
		}

		frame, ok := model.ParseIngestFrame(data)
		if !ok {
			h.dropped.Add(ctx, 1)
			h.logger.Debug("hub: dropped malformed frame", "remote", p.remote, "bytes", len(data))
			continue
		}
		if _, err := h.store.Put(ctx, frame.ClientID, frame.Status); err != nil {
			h.logger.Warn("hub: store status failed", "error", err, "client_id", frame.ClientID)
			continue
		}
		h.frames.Add(ctx, 1)
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

// remove forgets p and closes its socket. Safe to call twice.
func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	_ = p.conn.Close()
}

// Len returns the number of open ingest connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Sweep runs one liveness pass. A connection that has not answered the
// previous ping is terminated; every other connection is marked not-alive
// and pinged. Terminating a connection leaves its stored status untouched.
// When a status TTL is configured, records idle longer than it are evicted.
func (h *Hub) Sweep(ctx context.Context) {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if !p.alive.Swap(false) {
			h.logger.Info("hub: terminating unresponsive connection", "remote", p.remote)
			h.remove(p)
			h.terminated.Add(ctx, 1)
			continue
		}
		if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWait)); err != nil {
			// The read loop sees the same failure and cleans up.
			h.logger.Debug("hub: ping failed", "remote", p.remote, "error", err)
		}
	}

	if h.statusTTL > 0 {
		n, err := h.store.EvictBefore(ctx, h.now().Add(-h.statusTTL))
		if err != nil {
			h.logger.Warn("hub: evict idle statuses failed", "error", err)
		} else if n > 0 {
			h.logger.Info("hub: evicted idle statuses", "count", n, "ttl", h.statusTTL)
		}
	}
}

// Run sweeps every interval until ctx is cancelled, then closes every open
// connection. It blocks.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// CloseAll sends a going-away close frame to every connection and closes it.
// http.Server.Shutdown does not track hijacked connections.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	for _, p := range peers {
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(pingWait))
		h.remove(p)
	}
}
