package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
)

// LivenessPolicy holds the session timeout thresholds evaluated on every tick
type LivenessPolicy struct {
	SoftTimeout      time.Duration
	HardTimeout      time.Duration
	HeartbeatTimeout time.Duration
	TickInterval     time.Duration

	// HeartbeatAware requires a BYE before hard expiry and emits SDES heartbeats
	HeartbeatAware bool
	// RTCPHeartbeat enables the control acknowledgment watchdog in heartbeat-aware mode
	RTCPHeartbeat bool
}

// WorkerConfig contains the per-worker parameters of the connection core
type WorkerConfig struct {
	Liveness       LivenessPolicy
	ReadBufferSize int
	MaxInputBytes  int
}

// NewWorkerConfig derives the worker parameters from the service configuration
func NewWorkerConfig(cfg *config.Config) WorkerConfig {
	return WorkerConfig{
		Liveness: LivenessPolicy{
			SoftTimeout:      cfg.Liveness.GetSoftTimeout(),
			HardTimeout:      cfg.Liveness.GetHardTimeout(),
			HeartbeatTimeout: cfg.Liveness.GetHeartbeatTimeout(),
			TickInterval:     cfg.Liveness.GetTickInterval(),
			HeartbeatAware:   cfg.Liveness.HeartbeatPolicy,
			RTCPHeartbeat:    cfg.Liveness.RTCPHeartbeat,
		},
		ReadBufferSize: cfg.Server.ReadBufferSize,
		MaxInputBytes:  cfg.Server.MaxInputBytes,
	}
}

// Worker is the context every Client of one event loop belongs to. It owns the
// live-connection counter and the registry of clients. Apart from the
// accessors documented otherwise, methods must run on the worker's loop.
type Worker struct {
	loop    *eventloop.Loop
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     WorkerConfig

	handler RequestHandler
	control ControlChannel
	buffers BufferPool
	clock   func() time.Time

	// written only on the loop, read from anywhere
	connections atomic.Int64

	clients    map[uuid.UUID]*Client
	onTeardown func(*Client)
}

// Option customizes a Worker
type Option func(*Worker)

// WithHandler sets the collaborator that consumes client input
func WithHandler(h RequestHandler) Option {
	return func(w *Worker) { w.handler = h }
}

// WithControlChannel sets the emitter of stream-end and heartbeat notifications
func WithControlChannel(c ControlChannel) Option {
	return func(w *Worker) { w.control = c }
}

// WithBufferPool sets the allocator of output buffers
func WithBufferPool(p BufferPool) Option {
	return func(w *Worker) { w.buffers = p }
}

// WithClock overrides the time source used by liveness supervision
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

// WithTeardownHook registers fn to run on the loop after each client is released
func WithTeardownHook(fn func(*Client)) Option {
	return func(w *Worker) { w.onTeardown = fn }
}

// NewWorker creates a worker bound to loop
func NewWorker(loop *eventloop.Loop, logger *slog.Logger, m *metrics.Metrics, cfg WorkerConfig, opts ...Option) *Worker {
	w := &Worker{
		loop:    loop,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		handler: BasicHandler{},
		control: InterleavedControl{},
		buffers: NewBufferPool(),
		clock:   time.Now,
		clients: make(map[uuid.UUID]*Client),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Loop returns the event loop the worker runs on
func (w *Worker) Loop() *eventloop.Loop {
	return w.loop
}

// Logger returns the worker logger
func (w *Worker) Logger() *slog.Logger {
	return w.logger
}

// Metrics returns the worker metrics
func (w *Worker) Metrics() *metrics.Metrics {
	return w.metrics
}

// Config returns the worker configuration
func (w *Worker) Config() WorkerConfig {
	return w.cfg
}

// Now returns the current time from the worker clock
func (w *Worker) Now() time.Time {
	return w.clock()
}

// Connections returns the live-connection counter. Safe from any goroutine.
func (w *Worker) Connections() int64 {
	return w.connections.Load()
}

// AddConnection increments the live-connection counter and returns the new value
func (w *Worker) AddConnection() int64 {
	n := w.connections.Add(1)
	w.metrics.SetActiveConnections(n)
	return n
}

// RemoveConnection decrements the live-connection counter and returns the new value
func (w *Worker) RemoveConnection() int64 {
	n := w.connections.Add(-1)
	if n < 0 {
		w.logger.Error("Live connection counter went negative", slog.Int64("connections", n))
	}
	w.metrics.SetActiveConnections(n)
	return n
}

// Clients returns the registered clients ordered by creation time
func (w *Worker) Clients() []*Client {
	clients := make([]*Client, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].created.Before(clients[j].created)
	})
	return clients
}

// Snapshot collects client information on the loop. Safe from any goroutine.
func (w *Worker) Snapshot(ctx context.Context) ([]ClientInfo, error) {
	var infos []ClientInfo
	err := w.loop.Call(ctx, func() {
		clients := w.Clients()
		infos = make([]ClientInfo, 0, len(clients))
		for _, c := range clients {
			infos = append(infos, c.Info())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot clients: %w", err)
	}
	return infos, nil
}

// ClientInfo returns information on one client. Safe from any goroutine.
func (w *Worker) ClientInfo(ctx context.Context, id uuid.UUID) (ClientInfo, bool, error) {
	var (
		info  ClientInfo
		found bool
	)
	err := w.loop.Call(ctx, func() {
		if c, ok := w.clients[id]; ok {
			info, found = c.Info(), true
		}
	})
	if err != nil {
		return ClientInfo{}, false, fmt.Errorf("failed to look up client: %w", err)
	}
	return info, found, nil
}

// DisconnectAll requests disconnection of every registered client
func (w *Worker) DisconnectAll() {
	for _, c := range w.clients {
		c.RequestDisconnect()
	}
}

func (w *Worker) register(c *Client) {
	w.clients[c.ID] = c
}

func (w *Worker) unregister(c *Client) {
	delete(w.clients, c.ID)
}
