package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/sdk/go/relay"
)

// DefaultPollTimeout bounds one status query.
const DefaultPollTimeout = 1500 * time.Millisecond

// StatusSource looks up the latest relay status. *relay.Client satisfies it.
type StatusSource interface {
	Status(ctx context.Context, clientID string) (*relay.StatusRecord, error)
}

// Poller queries the relay for one client_id.
type Poller struct {
	source   StatusSource
	clientID string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPoller returns a Poller. A zero timeout means DefaultPollTimeout.
func NewPoller(source StatusSource, clientID string, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{source: source, clientID: clientID, timeout: timeout, logger: logger}
}

// Poll fetches the latest status. ok is false when the query failed, timed
// out or found nothing: that is no information, never a clear status.
func (p *Poller) Poll(ctx context.Context) (st model.Status, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rec, err := p.source.Status(ctx, p.clientID)
	if err != nil {
		if relay.IsNotFound(err) {
			p.logger.Debug("session: no status published yet", "client_id", p.clientID)
		} else {
			p.logger.Debug("session: poll failed", "client_id", p.clientID, "error", err)
		}
		return model.Status{}, false
	}
	return model.Status{
		FacePresent:    rec.Status.FacePresent,
		LookingForward: rec.Status.LookingForward,
		Talking:        rec.Status.Talking,
		Distracted:     rec.Status.Distracted,
	}, true
}
