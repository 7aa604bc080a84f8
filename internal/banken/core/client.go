// Package core provides the HTTP client for the Core control plane.
//
// The agent uses this client to register itself on startup and to relay host
// container events. Event relay is best effort: a failed delivery is logged
// and dropped, never retried.
package core

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

	"github.com/bdobrica/Banken/common/retry"
	"github.com/bdobrica/Banken/common/trace"
)

const defaultTimeout = 10 * time.Second

// Config holds options for creating a Client.
type Config struct {
	// BaseURL is the Core API base URL (e.g. "https://core.example.com/api").
	// Must not end with a trailing slash.
	BaseURL string
	// Token is the agent's bearer token for Core.
	Token string
	// InstanceID identifies this agent process to Core.
	InstanceID string
	// Timeout bounds each HTTP call. Defaults to 10s when zero.
	Timeout time.Duration
	// RegisterRetry overrides the registration retry policy.
	// Zero MaxAttempts selects the default (5 attempts, 1s initial delay).
	RegisterRetry retry.Config
}

// Client is a Core control-plane HTTP client.
type Client struct {
	baseURL       string
	token         string
	instanceID    string
	registerRetry retry.Config
	httpClient    *http.Client
}

// New creates a new Core client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	registerRetry := cfg.RegisterRetry
	if registerRetry.MaxAttempts == 0 {
		registerRetry = retry.Config{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		instanceID:    cfg.InstanceID,
		registerRetry: registerRetry,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// EventPayload is the body for POST /agent/events.
type EventPayload struct {
	// EventID is a unique ID for this delivery attempt.
	EventID string `json:"event_id"`
	// Name is the event name (e.g. "container.create").
	Name string `json:"name"`
	// Kind is the resource kind of the event's actor.
	Kind string `json:"kind"`
	// ID is the actor's resource ID.
	ID string `json:"id"`
	// Attributes carries the raw or enriched event attributes.
	Attributes map[string]any `json:"attributes"`
}

// RegisterRequest is the body for POST /agent/register.
type RegisterRequest struct {
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
	Version    string `json:"version"`
}

// ErrorResponse is returned by Core on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register announces this agent instance to Core, retrying transient
// failures with backoff. The agent cannot serve Core-issued commands until
// registration succeeds.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	err := retry.Do(ctx, c.registerRetry, func() error {
		return c.post(ctx, "/agent/register", req, nil)
	})
	if err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}

// Ping checks connectivity with Core.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/agent/ping", nil)
}

// SendEvent delivers one event payload to Core. No retries: the watcher's
// relay contract is at most once, best effort.
func (c *Client) SendEvent(ctx context.Context, ev EventPayload) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if err := c.post(ctx, "/agent/events", ev, nil); err != nil {
		return fmt.Errorf("send event %s: %w", ev.Name, err)
	}
	return nil
}

// RelayEvent is the fire-and-forget variant of SendEvent: it dispatches the
// delivery on its own goroutine with a bounded timeout and never surfaces an
// error to the caller.
func (c *Client) RelayEvent(ev EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()
		if err := c.SendEvent(ctx, ev); err != nil {
			slog.Warn("core: event relay failed", "event", ev.Name, "id", ev.ID, "err", err)
		}
	}()
}

// --- internal helpers ---

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.instanceID != "" {
		req.Header.Set("X-Banken-Instance", c.instanceID)
	}
	if traceID := trace.FromContext(req.Context()); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr == nil && errResp.Error != "" {
			return fmt.Errorf("core %s %s → %d: %s", req.Method, req.URL.Path, resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("core %s %s → %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
