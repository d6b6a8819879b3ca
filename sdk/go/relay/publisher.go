package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("relay: publisher closed")

const writeWait = 10 * time.Second

// Publisher pushes statuses to the relay over its ingest websocket. The relay
// never acknowledges a frame; a successful Publish only means the frame was
// written. Publisher answers the relay's liveness pings for as long as it is
// open. Safe for concurrent use.
type Publisher struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	done chan struct{}
	err  error // read-loop failure, valid after done is closed
}

// Dial opens an ingest connection to the relay at baseURL
// (e.g. "http://localhost:8787"; ws and wss URLs are accepted too).
func Dial(ctx context.Context, baseURL string, header http.Header) (*Publisher, error) {
	wsURL, err := ingestURL(baseURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", wsURL, err)
	}

	p := &Publisher{conn: conn, done: make(chan struct{})}
	go p.readLoop()
	return p, nil
}

// readLoop drains inbound frames so gorilla's default ping handler replies
// with pongs. The relay sends nothing else.
func (p *Publisher) readLoop() {
	defer close(p.done)
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			p.err = err
			return
		}
	}
}

// Publish sends one status for clientID. status is any JSON-encodable value;
// the relay stores it verbatim.
func (p *Publisher) Publish(ctx context.Context, clientID string, status any) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("relay: client_id is required")
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("relay: marshal status: %w", err)
	}
	frame, err := json.Marshal(struct {
		ClientID string          `json:"client_id"`
		Status   json.RawMessage `json:"status"`
	}{clientID, raw})
	if err != nil {
		return fmt.Errorf("relay: marshal frame: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// Done is closed once the connection is gone, whether the relay terminated
// it or Close was called.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

// Err returns why the connection ended, or nil while it is open.
func (p *Publisher) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Close sends a normal close frame and tears the connection down.
// Safe to call multiple times.
func (p *Publisher) Close() error {
	p.writeMu.Lock()
	if p.closed {
		p.writeMu.Unlock()
		return nil
	}
	p.closed = true
	p.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := p.conn.Close()

	<-p.done
	return err
}

func ingestURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("relay: invalid relay URL %q", baseURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path += "/ws"
	}
	return u.String(), nil
}
