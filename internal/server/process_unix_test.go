//go:build unix

package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/rtsp-supervisor/internal/portpool"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server, err := listener.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestExecSpawnerKeepsChildWhenReleaseFails(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	server, _ := tcpPair(t)

	spawner := &ExecSpawner{
		path:    "/bin/sh",
		args:    []string{"-c", "exit 3"},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		release: func(*os.Process) error { return errors.New("handle already released") },
	}

	pid, err := spawner.Spawn(server, &ChildSlot{Ports: portpool.Pair{RTP: 20000, RTCP: 20001}})
	require.NoError(t, err, "a running child is not reported as a fork failure")
	require.Positive(t, pid)

	waiter, err := NewWaiter()
	require.NoError(t, err)

	var exit Exit
	require.Eventually(t, func() bool {
		e, ok, err := waiter.Reap()
		if err == nil && ok && e.PID == pid {
			exit = e
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, exit.Code)
	assert.False(t, exit.Signaled)
}
