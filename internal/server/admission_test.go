package server

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
)

func startGate(t *testing.T, env *testEnv, model ConnectionModel) *Gate {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gate := NewGate(listener, env.worker, model, env.cfg.Server.MaxConnections)
	gate.Start()
	t.Cleanup(func() { gate.Close() })
	return gate
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGateAdmitsUpToCeiling(t *testing.T) {
	env := newTestEnv(t)
	gate := startGate(t, env, NewCooperativeModel(env.worker))

	dial(t, gate.Addr())
	dial(t, gate.Addr())
	require.Eventually(t, func() bool { return env.worker.Connections() == 2 },
		2*time.Second, 10*time.Millisecond)

	rejected := dial(t, gate.Addr())
	require.NoError(t, rejected.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := rejected.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "connection over the ceiling is closed")

	assert.Equal(t, int64(2), env.worker.Connections())
	assert.Equal(t, float64(1),
		testutil.ToFloat64(env.metrics.ConnectionsRejected.WithLabelValues(metrics.RejectCeiling)))
}

func TestGateAdmitsAgainAfterDisconnect(t *testing.T) {
	env := newTestEnv(t)
	gate := startGate(t, env, NewCooperativeModel(env.worker))

	first := dial(t, gate.Addr())
	dial(t, gate.Addr())
	require.Eventually(t, func() bool { return env.worker.Connections() == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return env.worker.Connections() == 1 },
		2*time.Second, 10*time.Millisecond)

	dial(t, gate.Addr())
	require.Eventually(t, func() bool { return env.worker.Connections() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestGateIgnoresAcceptErrors(t *testing.T) {
	env := newTestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	gate := NewGate(listener, env.worker, NewCooperativeModel(env.worker), 1)
	env.do(t, func() {
		gate.onIncoming(acceptEvent{err: errors.New("resource temporarily unavailable")})
	})

	assert.Equal(t, int64(0), env.worker.Connections())
	assert.Equal(t, float64(0), testutil.ToFloat64(env.metrics.ConnectionsAccepted))
}

func TestGateCloseStopsAccepting(t *testing.T) {
	env := newTestEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gate := NewGate(listener, env.worker, NewCooperativeModel(env.worker), 1)
	gate.Start()
	require.NoError(t, gate.Close())

	_, err = net.DialTimeout("tcp", listener.Addr().String(), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestGateCloseClosesQueuedConnection(t *testing.T) {
	env := newTestEnv(t)
	gate := startGate(t, env, NewCooperativeModel(env.worker))

	release := make(chan struct{})
	require.True(t, env.loop.Post(func() { <-release }))

	server, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })
	require.True(t, gate.deliver(acceptEvent{conn: server}))

	require.NoError(t, gate.Close())
	close(release)
	env.do(t, func() {})

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "connection accepted before Close is not leaked")
	assert.Zero(t, env.worker.Connections())
}
