// Package questgen calls the quest-content collaborator, the external
// service that writes quest proposals from a summary of the last session.
package questgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cramsino/cramsino/internal/model"
)

// Fallback returns the quest used whenever the collaborator cannot produce
// one. Each call gets a fresh ID so two fallbacks can be offered side by side.
func Fallback() model.Quest {
	return model.Quest{
		ID:          "fallback-" + uuid.NewString(),
		Title:       "Manual Training",
		Description: "The quest master is offline. Focus for 15 minutes.",
		RewardGold:  50,
		RewardXP:    10,
		Type:        model.QuestMinDuration,
		Target:      15,
	}
}

// Client posts session summaries to the collaborator. Generate never fails:
// every error is logged and replaced by Fallback.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client for the collaborator at url. An empty url makes every
// call return the fallback quest.
func New(url string, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Generate asks for one quest tailored to req.
func (c *Client) Generate(ctx context.Context, req model.QuestRequest) model.Quest {
	if c.url == "" {
		return Fallback()
	}
	q, err := c.generate(ctx, req)
	if err != nil {
		c.logger.Warn("questgen: using fallback quest", "error", err)
		return Fallback()
	}
	return q
}

func (c *Client) generate(ctx context.Context, in model.QuestRequest) (model.Quest, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return model.Quest{}, fmt.Errorf("questgen: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return model.Quest{}, fmt.Errorf("questgen: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Quest{}, fmt.Errorf("questgen: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.Quest{}, fmt.Errorf("questgen: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Quest{}, fmt.Errorf("questgen: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var q model.Quest
	if err := json.Unmarshal(stripFences(raw), &q); err != nil {
		return model.Quest{}, fmt.Errorf("questgen: decode quest: %w", err)
	}
	if strings.TrimSpace(q.Title) == "" {
		return model.Quest{}, fmt.Errorf("questgen: quest has no title")
	}
	// The collaborator's ids are not trusted to be unique.
	q.ID = uuid.NewString()
	return q, nil
}

// stripFences removes markdown code fences a text model may wrap JSON in.
func stripFences(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return []byte(strings.TrimSpace(s))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
