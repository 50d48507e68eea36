package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/portpool"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

// ErrProcessModeUnsupported is returned where child processes cannot be spawned
var ErrProcessModeUnsupported = errors.New("process isolation mode is not supported on this platform")

// ChildSlot holds the resources reserved for a child before it is spawned
type ChildSlot struct {
	Ports portpool.Pair
}

// ChildProcess records a spawned child until it is reaped
type ChildProcess struct {
	Seq        uint64    `json:"seq"` // creation order
	PID        int       `json:"pid"`
	Ports      string    `json:"ports"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`

	pair portpool.Pair
}

// Exit describes a terminated child reported by a Waiter
type Exit struct {
	PID      int
	Code     int
	Signaled bool
}

// Spawner starts a child process serving conn. It must not wait for the child.
type Spawner interface {
	Spawn(conn net.Conn, slot *ChildSlot) (pid int, err error)
}

// Waiter collects terminated children without blocking. ok is false when no
// child has exited since the last call.
type Waiter interface {
	Reap() (exit Exit, ok bool, err error)
}

// ProcessModel serves every connection in a dedicated child process and reaps
// the children as they exit
type ProcessModel struct {
	worker  *rtsp.Worker
	pool    *portpool.Pool
	spawner Spawner
	waiter  Waiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	children map[int]*ChildProcess
	seq      uint64
	reaper   *eventloop.Timer
}

// NewProcessModel creates the process-per-connection model
func NewProcessModel(worker *rtsp.Worker, cfg config.ProcessConfig, spawner Spawner, waiter Waiter) (*ProcessModel, error) {
	pool, err := portpool.New(cfg.RTPPortMin, cfg.RTPPortMax)
	if err != nil {
		return nil, fmt.Errorf("failed to create port pool: %w", err)
	}

	m := &ProcessModel{
		worker:   worker,
		pool:     pool,
		spawner:  spawner,
		waiter:   waiter,
		logger:   worker.Logger(),
		metrics:  worker.Metrics(),
		children: make(map[int]*ChildProcess),
	}
	m.reaper = eventloop.NewTimer(worker.Loop(), cfg.GetReapInterval(), m.ReapTick)
	return m, nil
}

// Name implements ConnectionModel
func (m *ProcessModel) Name() string {
	return config.ModeProcess
}

// Start implements ConnectionModel by arming the reaper
func (m *ProcessModel) Start() error {
	m.reaper.Again()
	m.logger.Info("Child reaper started",
		slog.Duration("interval", m.reaper.Repeat()),
		slog.Int("port_pairs", m.pool.Capacity()),
	)
	return nil
}

// ReserveChildSlot reserves the resources a new child needs
func (m *ProcessModel) ReserveChildSlot() (*ChildSlot, error) {
	pair, err := m.pool.Reserve()
	if err != nil {
		return nil, err
	}
	return &ChildSlot{Ports: pair}, nil
}

// Admit implements ConnectionModel. The parent always closes its copy of conn.
func (m *ProcessModel) Admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer conn.Close()

	slot, err := m.ReserveChildSlot()
	if err != nil {
		m.logger.Warn("Connection rejected, no media ports available",
			slog.String("remote_addr", remote),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordConnectionRejected(metrics.RejectPorts)
		return
	}

	pid, err := m.spawner.Spawn(conn, slot)
	if err != nil {
		if relErr := m.pool.Release(slot.Ports); relErr != nil {
			m.logger.Error("Failed to release port pair", slog.String("error", relErr.Error()))
		}
		m.logger.Error("Fork failed",
			slog.String("remote_addr", remote),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordForkFailure()
		return
	}

	m.seq++
	m.children[pid] = &ChildProcess{
		Seq:        m.seq,
		PID:        pid,
		Ports:      slot.Ports.String(),
		RemoteAddr: remote,
		StartedAt:  m.worker.Now(),
		pair:       slot.Ports,
	}
	count := m.worker.AddConnection()
	m.metrics.RecordConnectionAccepted()
	m.metrics.RecordChildSpawned()
	m.metrics.SetActiveChildren(len(m.children))

	m.logger.Info("Child process spawned",
		slog.Int("pid", pid),
		slog.Uint64("seq", m.seq),
		slog.String("remote_addr", remote),
		slog.String("ports", slot.Ports.String()),
		slog.Int64("connections", count),
	)
}

// ReapTick collects every exited child and re-arms the reaper
func (m *ProcessModel) ReapTick() {
	m.reap()
	m.reaper.Again()
}

// reap drains the waiter and returns the number of known children collected
func (m *ProcessModel) reap() int {
	reaped := 0
	for {
		exit, ok, err := m.waiter.Reap()
		if err != nil {
			m.logger.Warn("Failed to reap children", slog.String("error", err.Error()))
			return reaped
		}
		if !ok {
			return reaped
		}

		child, known := m.children[exit.PID]
		if !known {
			m.logger.Warn("Reaped unknown child process", slog.Int("pid", exit.PID))
			continue
		}

		delete(m.children, exit.PID)
		if err := m.pool.Release(child.pair); err != nil {
			m.logger.Error("Failed to release port pair", slog.String("error", err.Error()))
		}
		count := m.worker.RemoveConnection()
		m.metrics.RecordChildReaped()
		m.metrics.SetActiveChildren(len(m.children))
		reaped++

		m.logger.Info("Child process reaped",
			slog.Int("pid", exit.PID),
			slog.Int("exit_code", exit.Code),
			slog.Bool("signaled", exit.Signaled),
			slog.Duration("lifetime", m.worker.Now().Sub(child.StartedAt)),
			slog.Int64("connections", count),
		)
	}
}

// Children returns the live children in creation order
func (m *ProcessModel) Children() []ChildProcess {
	children := make([]ChildProcess, 0, len(m.children))
	for _, c := range m.children {
		children = append(children, *c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Seq < children[j].Seq })
	return children
}

// Stats implements ConnectionModel
func (m *ProcessModel) Stats() ModelStats {
	return ModelStats{
		Mode:          m.Name(),
		Children:      m.Children(),
		PortsInUse:    m.pool.InUse(),
		PortsCapacity: m.pool.Capacity(),
	}
}

// Close implements ConnectionModel. Children keep running; the port pool is
// cleaned up.
func (m *ProcessModel) Close() {
	m.reaper.Stop()
	m.reap()
	m.pool.Close()
	m.logger.Info("Child reaper stopped", slog.Int("children", len(m.children)))
}
