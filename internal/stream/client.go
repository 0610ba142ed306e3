// Package stream maintains the telemetry stream from the automation backend.
//
// At most one server-sent events connection is open at a time, keyed by the
// session identifier given to Connect. Decoded events are routed into the
// shared store: log records are appended, activity snapshots replace the
// previous one, and every event becomes the store's last event. A transport
// error closes the connection; reconnecting is the caller's decision.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/npratt/gamepilot/internal/events"
	"github.com/npratt/gamepilot/internal/store"
)

// DefaultPath is the stream endpoint relative to the backend origin.
const DefaultPath = "sse"

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// Disconnect reasons reported on StreamDisconnectedEvent.
const (
	ReasonOperator = "operator"
	ReasonEOF      = "eof"
	ReasonError    = "error"
)

// ErrNoSessionID is returned by Connect when the identifier is empty.
var ErrNoSessionID = errors.New("stream: session id is required")

// Observer receives stream measurements.
type Observer interface {
	StreamConnected(connected bool)
	StreamEvent(eventType string)
	StreamDecodeFailed()
}

type nopObserver struct{}

func (nopObserver) StreamConnected(bool) {}
func (nopObserver) StreamEvent(string)   {}
func (nopObserver) StreamDecodeFailed()  {}

// Clearer drops session-scoped local persistence on disconnect.
type Clearer interface {
	Clear() error
}

// Client is the telemetry stream client.
type Client struct {
	baseURL  string
	path     string
	header   string
	client   *http.Client
	store    *store.Store
	router   *events.Router
	observer Observer
	clearer  Clearer
	logger   *slog.Logger

	connectMu sync.Mutex

	mu        sync.Mutex
	conn      *connection
	sessionID string
	wg        sync.WaitGroup
}

type connection struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	id     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It must not impose a total request
// timeout, since the stream stays open indefinitely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithPath overrides the stream endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = strings.TrimLeft(path, "/")
		}
	}
}

// WithTargetHeader sends the session identifier in the named header, matching
// the header the REST client uses.
func WithTargetHeader(name string) Option {
	return func(c *Client) { c.header = name }
}

// WithRouter emits connection events on r.
func WithRouter(r *events.Router) Option {
	return func(c *Client) { c.router = r }
}

// WithObserver reports measurements to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClearer clears cl on every disconnect.
func WithClearer(cl Clearer) Option {
	return func(c *Client) { c.clearer = cl }
}

// New creates a disconnected Client for the backend at baseURL. A nil store
// gets a private one.
func New(baseURL string, st *store.Store, logger *slog.Logger, opts ...Option) *Client {
	if st == nil {
		st = store.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		path:     DefaultPath,
		client:   &http.Client{},
		store:    st,
		observer: nopObserver{},
		logger:   logger.With("component", "stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the stream for id. It is a no-op while a connection is open.
// The connection lives until Disconnect, a transport error, or ctx is done.
func (c *Client) Connect(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoSessionID
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}

	u := fmt.Sprintf("%s/%s?pid=%s", c.baseURL, c.path, url.QueryEscape(id))
	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.header != "" {
		req.Header.Set(c.header, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("stream: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("stream: connect: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	conn := &connection{cancel: cancel, body: resp.Body, id: id}

	c.mu.Lock()
	c.conn = conn
	c.sessionID = id
	c.wg.Add(1)
	c.mu.Unlock()

	c.store.SetSessionID(id)
	c.store.SetConnected(true)
	c.observer.StreamConnected(true)
	c.emit(&events.StreamConnectedEvent{
		BaseEvent: events.NewStreamEvent(events.EventStreamConnected),
		SessionID: id,
	})
	c.logger.Info("stream connected", "session_id", id)

	go c.read(conn)
	return nil
}

// Disconnect closes the stream, clears the connected flag and the
// session-scoped selection, and waits for the reader to exit. It is safe to
// call when not connected.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.close(nil, ReasonOperator)
	c.wg.Wait()
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SessionID returns the identifier of the last successful Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// close tears down conn, or the current connection when conn is nil. A stale
// conn is ignored so a late reader exit cannot close a newer connection.
func (c *Client) close(conn *connection, reason string) {
	c.mu.Lock()
	cur := c.conn
	if cur == nil || (conn != nil && conn != cur) {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	cur.cancel()
	_ = cur.body.Close()

	c.store.SetConnected(false)
	if c.clearer != nil {
		if err := c.clearer.Clear(); err != nil {
			c.logger.Warn("clear selection failed", "error", err)
		}
	}
	c.observer.StreamConnected(false)
	c.emit(&events.StreamDisconnectedEvent{
		BaseEvent: events.NewStreamEvent(events.EventStreamDisconnected),
		SessionID: cur.id,
		Reason:    reason,
	})
	c.logger.Info("stream disconnected", "session_id", cur.id, "reason", reason)
}

func (c *Client) read(conn *connection) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if data.Len() > 0 {
				c.dispatch(data.Bytes())
				data.Reset()
			}
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("data:")):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		}
	}

	reason := ReasonEOF
	if err := scanner.Err(); err != nil {
		reason = ReasonError
		c.mu.Lock()
		live := c.conn == conn
		c.mu.Unlock()
		if live {
			c.logger.Warn("stream read failed", "session_id", conn.id, "error", err)
		}
	}
	c.close(conn, reason)
}

func (c *Client) dispatch(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		c.observer.StreamDecodeFailed()
		c.logger.Warn("failed to parse stream event", "error", err, "payload", truncate(payload, 200))
		c.emit(&events.ErrorEvent{
			BaseEvent: events.NewStreamEvent(events.EventError),
			Message:   "failed to parse stream event: " + err.Error(),
			Severity:  events.SeverityWarning,
		})
		return
	}

	raw := msg.Raw()
	c.store.SetLastEvent(raw)
	c.observer.StreamEvent(raw.Type)

	switch m := msg.(type) {
	case LogMessage:
		c.store.AppendLog(m.Record)
	case SnapshotMessage:
		snap := m.Snapshot
		c.store.ReplaceSnapshot(&snap)
	case UnknownMessage:
		c.logger.Debug("ignoring stream event", "type", raw.Type)
	}
}

func (c *Client) emit(e events.Event) {
	if c.router != nil {
		c.router.Emit(e)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
