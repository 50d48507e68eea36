package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

// acceptBackoff throttles the accept goroutine after a failed Accept
const acceptBackoff = 5 * time.Millisecond

// acceptEvent is one Accept result delivered to the loop
type acceptEvent struct {
	conn net.Conn
	err  error
}

// Gate accepts RTSP connections and admits them under the worker ceiling
type Gate struct {
	listener net.Listener
	worker   *rtsp.Worker
	model    ConnectionModel
	ceiling  int64
	logger   *slog.Logger
	metrics  *metrics.Metrics

	watcher *eventloop.Watcher[acceptEvent]
	wg      sync.WaitGroup
}

// Listen opens the RTSP TCP listener described by cfg
func Listen(cfg config.ServerConfig) (net.Listener, error) {
	addr := net.JoinHostPort(cfg.BindAddress, fmt.Sprintf("%d", cfg.RTSPPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// NewGate creates an admission gate over listener. ceiling bounds the number
// of live connections of the worker.
func NewGate(listener net.Listener, worker *rtsp.Worker, model ConnectionModel, ceiling int) *Gate {
	g := &Gate{
		listener: listener,
		worker:   worker,
		model:    model,
		ceiling:  int64(ceiling),
		logger:   worker.Logger(),
		metrics:  worker.Metrics(),
	}
	g.watcher = eventloop.NewWatcher(worker.Loop(), g.onIncoming)
	return g
}

// Addr returns the listener address
func (g *Gate) Addr() net.Addr {
	return g.listener.Addr()
}

// Start begins accepting connections
func (g *Gate) Start() {
	g.logger.Info("Starting RTSP listener",
		slog.String("address", g.listener.Addr().String()),
		slog.String("mode", g.model.Name()),
		slog.Int64("max_connections", g.ceiling),
	)

	g.watcher.Start()
	g.wg.Add(1)
	go g.acceptLoop()
}

// Close stops accepting and waits for the accept goroutine to exit
func (g *Gate) Close() error {
	g.watcher.Stop()
	err := g.listener.Close()
	g.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

func (g *Gate) acceptLoop() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			g.deliver(acceptEvent{err: err})
			time.Sleep(acceptBackoff)
			continue
		}

		if !g.deliver(acceptEvent{conn: conn}) {
			return
		}
	}
}

// deliver hands ev to the loop; an accepted conn that never reaches
// onIncoming is closed
func (g *Gate) deliver(ev acceptEvent) bool {
	return g.watcher.NotifyOrDrop(ev, dropAccept)
}

func dropAccept(ev acceptEvent) {
	if ev.conn != nil {
		ev.conn.Close()
	}
}

// onIncoming runs on the loop for every accept result
func (g *Gate) onIncoming(ev acceptEvent) {
	if ev.err != nil {
		g.logger.Debug("Accept failed", slog.String("error", ev.err.Error()))
		return
	}

	if live := g.worker.Connections(); live >= g.ceiling {
		g.logger.Debug("Connection rejected, worker at capacity",
			slog.String("remote_addr", ev.conn.RemoteAddr().String()),
			slog.Int64("connections", live),
			slog.Int64("max_connections", g.ceiling),
		)
		g.metrics.RecordConnectionRejected(metrics.RejectCeiling)
		ev.conn.Close()
		return
	}

	g.model.Admit(ev.conn)
}
