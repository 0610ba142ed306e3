// Package backendsim is an in-process fake of the automation backend. It
// serves the REST endpoints and the telemetry stream the real backend does,
// with scriptable activity, so the control loop can run end to end without
// target windows.
package backendsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/npratt/gamepilot/internal/backend"
	"github.com/npratt/gamepilot/internal/store"
)

// DefaultActiveProbes is how many activity probes report true after each
// accepted start.
const DefaultActiveProbes = 2

// StartRequest is a recorded start-auto-game call.
type StartRequest struct {
	Main           backend.RoleHandles `json:"main"`
	Sub            backend.RoleHandles `json:"sub"`
	Mode           string              `json:"mode"`
	IceOnlySupport bool                `json:"iceOnlySupport"`
	Target         string              `json:"-"`
}

// ActionRequest is a recorded one-shot window command.
type ActionRequest struct {
	Endpoint string
	PID      int
	Action   string
	Lock     bool
}

// Server is the fake backend.
type Server struct {
	engine *gin.Engine
	logger *slog.Logger
	python bool
	start  time.Time

	mu            sync.Mutex
	healthy       bool
	gameWindows   []backend.Window
	toolWindows   []backend.Window
	activeProbes  int
	remaining     int
	script        []bool
	failStarts    int
	rejectStarts  int
	starts        []StartRequest
	actions       []ActionRequest
	powerOffs     int
	probes        int
	subscribers   map[string]chan string
	streamsClosed chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithActiveProbes sets how many probes report an activity after each start.
func WithActiveProbes(n int) Option {
	return func(s *Server) { s.activeProbes = n }
}

// WithJSONEvents makes the stream emit plain JSON instead of Python dict
// literals.
func WithJSONEvents() Option {
	return func(s *Server) { s.python = false }
}

// WithWindows sets the window listings.
func WithWindows(game, tool []backend.Window) Option {
	return func(s *Server) {
		s.gameWindows = game
		s.toolWindows = tool
	}
}

// New creates a Server. The caller picks the gin mode.
func New(opts ...Option) *Server {
	s := &Server{
		logger:       slog.Default(),
		python:       true,
		start:        time.Now(),
		healthy:      true,
		activeProbes: DefaultActiveProbes,
		gameWindows: []backend.Window{
			{Title: "Game A", PID: 4242},
			{Title: "Game B", PID: 4343},
		},
		toolWindows: []backend.Window{
			{Title: "Tool A", PID: 5252},
			{Title: "Tool B", PID: 5353},
		},
		subscribers:   make(map[string]chan string),
		streamsClosed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "backendsim")
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/"+backend.EndpointHealth, s.handleHealth)
	r.GET("/"+backend.EndpointGameWindows, s.handleWindows(func() []backend.Window { return s.gameWindows }))
	r.GET("/"+backend.EndpointToolWindows, s.handleWindows(func() []backend.Window { return s.toolWindows }))
	r.POST("/"+backend.EndpointStartAutoGame, s.handleStart)
	r.POST("/"+backend.EndpointIsInGame, s.handleIsInGame)
	r.POST("/"+backend.EndpointLocateWindow, s.handleAction(backend.EndpointLocateWindow))
	r.POST("/"+backend.EndpointLocateAutoWindow, s.handleAction(backend.EndpointLocateAutoWindow))
	r.POST("/"+backend.EndpointLockWindow, s.handleAction(backend.EndpointLockWindow))
	r.POST("/"+backend.EndpointStartAction, s.handleAction(backend.EndpointStartAction))
	r.POST("/"+backend.EndpointPowerOff, s.handlePowerOff)
	r.GET("/sse", s.handleStream)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "starting"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.start).Seconds(),
	})
}

func (s *Server) handleWindows(list func() []backend.Window) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		windows := append([]backend.Window(nil), list()...)
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"windows": windows})
	}
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "message": "invalid request body"})
		return
	}
	req.Target = c.GetHeader(backend.DefaultTargetHeader)

	s.mu.Lock()
	switch {
	case s.failStarts > 0:
		s.failStarts--
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"status": false, "message": "automation error"})
		return
	case s.rejectStarts > 0:
		s.rejectStarts--
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"status": false})
		return
	}
	s.starts = append(s.starts, req)
	s.remaining = s.activeProbes
	n := len(s.starts)
	s.mu.Unlock()

	s.BroadcastLog(store.LevelInfo, fmt.Sprintf("auto game %d started in %s mode", n, req.Mode))
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (s *Server) handleIsInGame(c *gin.Context) {
	var pair backend.ActivityPair
	if err := c.ShouldBindJSON(&pair); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "message": "invalid request body"})
		return
	}

	s.mu.Lock()
	s.probes++
	var active bool
	if len(s.script) > 0 {
		active = s.script[0]
		s.script = s.script[1:]
	} else if s.remaining > 0 {
		s.remaining--
		active = true
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": active})
}

func (s *Server) handleAction(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			PID    int    `json:"pid"`
			Game   int    `json:"game"`
			Action string `json:"action"`
			Lock   bool   `json:"lock"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": false, "message": "invalid request body"})
			return
		}
		pid := body.PID
		if pid == 0 {
			pid = body.Game
		}
		s.mu.Lock()
		s.actions = append(s.actions, ActionRequest{
			Endpoint: endpoint,
			PID:      pid,
			Action:   body.Action,
			Lock:     body.Lock,
		})
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"status": true})
	}
}

func (s *Server) handlePowerOff(c *gin.Context) {
	s.mu.Lock()
	s.powerOffs++
	s.mu.Unlock()
	s.BroadcastLog(store.LevelWarn, "power off requested")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handleStream(c *gin.Context) {
	pid := c.Query("pid")
	if pid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "message": "pid is required"})
		return
	}

	ch := make(chan string, 64)
	s.mu.Lock()
	if old, ok := s.subscribers[pid]; ok {
		close(old)
	}
	s.subscribers[pid] = ch
	closed := s.streamsClosed
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.subscribers[pid] == ch {
			delete(s.subscribers, pid)
		}
		s.mu.Unlock()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-closed:
			return false
		case payload, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", payload)
			return true
		}
	})
}

// Broadcast sends one event to every open stream.
func (s *Server) Broadcast(eventType string, data any) error {
	payload, err := s.encode(eventType, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			s.logger.Warn("stream subscriber full, event dropped", "pid", pid, "type", eventType)
		}
	}
	return nil
}

// BroadcastLog sends a log event.
func (s *Server) BroadcastLog(level, message string) {
	_ = s.Broadcast("log", store.LogRecord{
		Message:   message,
		Level:     level,
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
	})
}

// BroadcastVehicle sends an activity snapshot.
func (s *Server) BroadcastVehicle(side string, info map[int]store.Cell) {
	_ = s.Broadcast("vehicle", store.ActivitySnapshot{Side: side, Cells: info})
}

// BroadcastRaw sends payload verbatim, for malformed-event tests.
func (s *Server) BroadcastRaw(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
		}
	}
}

var quotedIntKey = regexp.MustCompile(`'(-?\d+)':`)

func (s *Server) encode(eventType string, data any) (string, error) {
	b, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if !s.python {
		return string(b), nil
	}
	// Approximate str(dict): single quotes, bare integer keys.
	out := strings.ReplaceAll(string(b), `"`, `'`)
	out = strings.ReplaceAll(out, `':`, `': `)
	out = strings.ReplaceAll(out, `,'`, `, '`)
	out = quotedIntKey.ReplaceAllString(out, `$1:`)
	return out, nil
}

// CloseStreams ends every open stream, as a backend restart would.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.streamsClosed)
	s.streamsClosed = make(chan struct{})
}

// SetHealthy toggles the health endpoint.
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	s.healthy = healthy
	s.mu.Unlock()
}

// SetActiveScript queues explicit probe results, consumed before the
// per-start activity counter.
func (s *Server) SetActiveScript(results ...bool) {
	s.mu.Lock()
	s.script = append([]bool(nil), results...)
	s.mu.Unlock()
}

// FailStarts makes the next n starts answer 500.
func (s *Server) FailStarts(n int) {
	s.mu.Lock()
	s.failStarts = n
	s.mu.Unlock()
}

// RejectStarts makes the next n starts answer {"status": false}.
func (s *Server) RejectStarts(n int) {
	s.mu.Lock()
	s.rejectStarts = n
	s.mu.Unlock()
}

// Starts returns the accepted start requests.
func (s *Server) Starts() []StartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartRequest(nil), s.starts...)
}

// Actions returns the recorded window commands.
func (s *Server) Actions() []ActionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActionRequest(nil), s.actions...)
}

// PowerOffs returns the number of power-off calls.
func (s *Server) PowerOffs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powerOffs
}

// Probes returns the number of is-in-game calls.
func (s *Server) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Subscribers returns the number of open streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// StreamSessions returns the session ids of the open streams, sorted.
func (s *Server) StreamSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("simulated backend listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.CloseStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
