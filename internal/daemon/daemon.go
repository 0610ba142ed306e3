// Package daemon runs the control loop in the background and serves
// operator commands over a Unix socket.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/npratt/gamepilot/internal/backend"
	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/controller"
	"github.com/npratt/gamepilot/internal/store"
)

// Stream is the telemetry stream connection.
type Stream interface {
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
	Connected() bool
	SessionID() string
}

// Identity yields the current target identifier.
type Identity interface {
	ID() string
}

// Selector is an Identity that accepts a new selection.
type Selector interface {
	Identity
	Select(window string) error
}

// Daemon serves operator commands for one controller.
type Daemon struct {
	config     *config.Config
	controller *controller.Controller
	dispatcher backend.Dispatcher
	store      *store.Store
	stream     Stream
	identity   Identity
	sockPath   string
	startTime  time.Time
	logger     *slog.Logger
	onShutdown func()

	listener net.Listener
	running  bool
	mu       sync.RWMutex

	// streamMu serializes select, connect and disconnect.
	streamMu sync.Mutex
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithDispatcher serves the window commands through d.
func WithDispatcher(disp backend.Dispatcher) Option {
	return func(d *Daemon) { d.dispatcher = disp }
}

// WithStore serves telemetry logs from st.
func WithStore(st *store.Store) Option {
	return func(d *Daemon) { d.store = st }
}

// WithStream reports the stream connection in status and lets operators
// connect and disconnect it.
func WithStream(s Stream) Option {
	return func(d *Daemon) { d.stream = s }
}

// WithIdentity sets the source of the stream session id. A Selector also
// serves the select method.
func WithIdentity(id Identity) Option {
	return func(d *Daemon) { d.identity = id }
}

// WithShutdown sets the function run by the shutdown method. Without it the
// daemon only closes its own listener.
func WithShutdown(fn func()) Option {
	return func(d *Daemon) { d.onShutdown = fn }
}

// New creates a Daemon for ctrl listening on cfg.Paths.Socket.
func New(cfg *config.Config, ctrl *controller.Controller, logger *slog.Logger, opts ...Option) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		config:     cfg,
		controller: ctrl,
		sockPath:   cfg.Paths.Socket,
		logger:     logger.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Running returns whether the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Controller returns the controller the daemon drives.
func (d *Daemon) Controller() *controller.Controller {
	return d.controller
}

// StartTime returns when the daemon was started.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// SocketPath returns the Unix socket path.
func (d *Daemon) SocketPath() string {
	return d.sockPath
}
