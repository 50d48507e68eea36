package rtsp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPool remembers the contents of released buffers in release order
type recordingPool struct {
	mu       sync.Mutex
	released []string
}

func (p *recordingPool) Get() *bytes.Buffer {
	return new(bytes.Buffer)
}

func (p *recordingPool) Put(buf *bytes.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, buf.String())
}

func (p *recordingPool) Released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

// recordingControl logs control messages instead of sending them
type recordingControl struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (rc *recordingControl) SendBye(s *Session) error {
	return rc.record("bye", s)
}

func (rc *recordingControl) SendHeartbeat(s *Session) error {
	return rc.record("sdes", s)
}

func (rc *recordingControl) record(kind string, s *Session) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.fail {
		return fmt.Errorf("control channel unavailable")
	}
	rc.sent = append(rc.sent, fmt.Sprintf("%s:%08x", kind, s.SSRC))
	return nil
}

func (rc *recordingControl) Sent() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.sent...)
}

type harness struct {
	loop    *eventloop.Loop
	worker  *Worker
	metrics *metrics.Metrics
	clock   *fakeClock
	pool    *recordingPool
	control *recordingControl
}

func testPolicy() LivenessPolicy {
	return LivenessPolicy{
		SoftTimeout:      6 * time.Second,
		HardTimeout:      12 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		// ticks are driven by the tests
		TickInterval: time.Hour,
	}
}

func newHarness(t *testing.T, policy LivenessPolicy, opts ...Option) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := eventloop.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	h := &harness{
		loop:    loop,
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		clock:   newFakeClock(),
		pool:    &recordingPool{},
		control: &recordingControl{},
	}

	cfg := WorkerConfig{
		Liveness:       policy,
		ReadBufferSize: 4096,
		MaxInputBytes:  64 * 1024,
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithBufferPool(h.pool),
		WithControlChannel(h.control),
	}
	h.worker = NewWorker(loop, logger, h.metrics, cfg, append(base, opts...)...)
	return h
}

// do runs fn on the loop and waits for it
func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.loop.Call(ctx, fn))
}

// connect accepts one side of an in-memory connection and returns the peer
func (h *harness) connect(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })

	var c *Client
	h.do(t, func() { c = NewClient(h.worker, server) })
	return c, peer
}

func (h *harness) attach(t *testing.T, c *Client, cfg SessionConfig) *Session {
	t.Helper()
	var (
		s   *Session
		err error
	)
	h.do(t, func() { s, err = c.AddSession(cfg) })
	require.NoError(t, err)
	return s
}

func (h *harness) tick(t *testing.T, c *Client) {
	t.Helper()
	h.do(t, c.onLivenessTick)
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client was not released")
	}
}

func requireOpen(t *testing.T, h *harness, c *Client) {
	t.Helper()
	// flush any disconnect already signalled
	h.do(t, func() {})
	h.do(t, func() {})
	select {
	case <-c.Done():
		t.Fatal("client was released unexpectedly")
	default:
	}
	var closing bool
	h.do(t, func() { closing = c.Closing() })
	require.False(t, closing)
}

// stallConn accepts writes only to fail them once the connection is closed
type stallConn struct {
	net.Conn
	once   sync.Once
	closed chan struct{}
}

func newStallConn(conn net.Conn) *stallConn {
	return &stallConn{Conn: conn, closed: make(chan struct{})}
}

func (c *stallConn) Write(b []byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *stallConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}
