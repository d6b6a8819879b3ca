package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cramsino/cramsino/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the relay (e.g. "http://localhost:8787").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client queries the relay. All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or not an http(s) URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("relay: BaseURL must be an http(s) URL, got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// BaseURL returns the relay root URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the latest status for clientID. The record is returned
// however old it is; callers judge staleness from UpdatedAt.
// A client_id with no status yields an error for which IsNotFound is true.
func (c *Client) Status(ctx context.Context, clientID string) (*StatusRecord, error) {
	var wire wireRecord
	if err := c.get(ctx, "/status?client_id="+url.QueryEscape(clientID), &wire); err != nil {
		return nil, err
	}
	return &StatusRecord{
		ClientID:  wire.ClientID,
		Status:    decodeStatus(wire.Status),
		Raw:       wire.Status,
		UpdatedAt: wire.UpdatedAt,
	}, nil
}

// Health fetches the relay's health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("relay: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("relay: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error != "" {
		apiErr.Code = we.Code
		apiErr.Message = we.Error
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(statusCode)
	}
	return apiErr
}

// decodeStatus reads the boolean flags out of a raw status object the same
// way the relay does.
func decodeStatus(raw json.RawMessage) Status {
	return Status(model.StatusRecord{Status: raw}.Flags())
}
