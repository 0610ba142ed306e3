package backend

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

	"github.com/npratt/gamepilot/internal/identity"
)

// Backend endpoints.
const (
	EndpointStartAutoGame    = "start-auto-game"
	EndpointIsInGame         = "is-in-game"
	EndpointLocateAutoWindow = "locate-auto-window"
	EndpointLocateWindow     = "locate-window"
	EndpointLockWindow       = "lock-window"
	EndpointStartAction      = "start-action"
	EndpointPowerOff         = "power-off"
	EndpointGameWindows      = "game-windows"
	EndpointToolWindows      = "tool-windows"
	EndpointHealth           = "health"
)

// FollowUpAction is the start-action name of the follow-up activity.
const FollowUpAction = "battle"

// DefaultTargetHeader carries the selected target identifier on every request.
const DefaultTargetHeader = "x-pid"

// RequestError is returned for non-2xx responses.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if body != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.StatusCode, body)
	}
	return fmt.Sprintf("%s: http %d", e.Endpoint, e.StatusCode)
}

// Retryable reports whether the same request may succeed later.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// Client implements Dispatcher over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	ids     identity.Source
	header  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds every request. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTargetHeader overrides the header that carries the target identifier.
func WithTargetHeader(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.header = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the backend at baseURL. ids supplies the
// target header value; nil sends no header.
func NewClient(baseURL string, ids identity.Source, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		ids:     ids,
		header:  DefaultTargetHeader,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "backend")
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type startSessionRequest struct {
	Main           RoleHandles `json:"main"`
	Sub            RoleHandles `json:"sub"`
	Mode           string      `json:"mode"`
	IceOnlySupport bool        `json:"iceOnlySupport,omitempty"`
}

// StartSession implements SessionStarter.
func (c *Client) StartSession(ctx context.Context, target SessionTarget, cfg SessionConfig) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointStartAutoGame, startSessionRequest{
		Main:           target.Primary,
		Sub:            target.Secondary,
		Mode:           cfg.Mode,
		IceOnlySupport: cfg.SupportOnly,
	}, &ack)
	return ack, err
}

// IsActive implements SessionStarter.
func (c *Client) IsActive(ctx context.Context, pair ActivityPair) (bool, error) {
	var ack Ack
	if err := c.do(ctx, http.MethodPost, EndpointIsInGame, pair, &ack); err != nil {
		return false, err
	}
	return ack.OK, nil
}

// LocateWindow implements WindowCommander.
func (c *Client) LocateWindow(ctx context.Context, handle int) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointLocateWindow, map[string]int{"pid": handle}, &ack)
	return ack, err
}

// LocateRoleWindow implements WindowCommander.
func (c *Client) LocateRoleWindow(ctx context.Context, role RoleHandles, idx int) (Ack, error) {
	if idx != 0 && idx != 1 {
		return Ack{}, fmt.Errorf("role index must be 0 or 1, got %d", idx)
	}
	body := struct {
		Game int `json:"game"`
		Tool int `json:"tool"`
		Idx  int `json:"idx"`
	}{role.Game, role.Tool, idx}
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointLocateAutoWindow, body, &ack)
	return ack, err
}

// LockWindow implements WindowCommander.
func (c *Client) LockWindow(ctx context.Context, lock bool, handle int) (Ack, error) {
	body := struct {
		Lock bool `json:"lock"`
		PID  int  `json:"pid,omitempty"`
	}{lock, handle}
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointLockWindow, body, &ack)
	return ack, err
}

// StartAction implements WindowCommander.
func (c *Client) StartAction(ctx context.Context, handle int, action string) (Ack, error) {
	body := struct {
		PID    int    `json:"pid"`
		Action string `json:"action"`
	}{handle, action}
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointStartAction, body, &ack)
	return ack, err
}

// GameWindows implements WindowCommander.
func (c *Client) GameWindows(ctx context.Context) ([]Window, error) {
	return c.windows(ctx, EndpointGameWindows)
}

// ToolWindows implements WindowCommander.
func (c *Client) ToolWindows(ctx context.Context) ([]Window, error) {
	return c.windows(ctx, EndpointToolWindows)
}

func (c *Client) windows(ctx context.Context, endpoint string) ([]Window, error) {
	var resp struct {
		Windows []Window `json:"windows"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Windows, nil
}

// StartFollowUpActivity implements Finisher.
func (c *Client) StartFollowUpActivity(ctx context.Context, target SessionTarget) (Ack, error) {
	return c.StartAction(ctx, target.Primary.Game, FollowUpAction)
}

// PowerOff implements Finisher.
func (c *Client) PowerOff(ctx context.Context) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, EndpointPowerOff, struct{}{}, &ack)
	return ack, err
}

// Health implements Dispatcher.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, EndpointHealth, nil, &hs)
	return hs, err
}

// do sends one JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("%s: encode request body: %w", endpoint, err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+"/"+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ids != nil {
		if id := c.ids.ID(); id != "" {
			req.Header.Set(c.header, id)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	c.logger.Debug("backend request",
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(payload),
		}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
