//go:build unix

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// childConnFD is the descriptor number the client connection has in a child:
// the first entry of ExtraFiles follows stdin, stdout and stderr
const childConnFD = 3

// ExecSpawner re-executes the current binary in child mode
type ExecSpawner struct {
	path    string
	args    []string
	logger  *slog.Logger
	release func(*os.Process) error
}

// NewExecSpawner creates a spawner passing args ahead of the child flags
func NewExecSpawner(logger *slog.Logger, args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecSpawner{
		path:    path,
		args:    args,
		logger:  logger,
		release: (*os.Process).Release,
	}, nil
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn(conn net.Conn, slot *ChildSlot) (int, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return 0, fmt.Errorf("connection of type %T has no file descriptor", conn)
	}
	f, err := fc.File()
	if err != nil {
		return 0, fmt.Errorf("failed to duplicate connection descriptor: %w", err)
	}
	defer f.Close()

	args := append([]string{}, s.args...)
	args = append(args,
		"-child",
		"-rtp-port", strconv.Itoa(slot.Ports.RTP),
		"-rtcp-port", strconv.Itoa(slot.Ports.RTCP),
	)

	cmd := exec.Command(s.path, args...)
	cmd.ExtraFiles = []*os.File{f}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start child process: %w", err)
	}

	pid := cmd.Process.Pid
	// the reaper collects the exit status with wait4
	if err := s.release(cmd.Process); err != nil {
		s.logger.Warn("Failed to release child process handle",
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
	}
	return pid, nil
}

// Wait4Waiter reaps any exited child of the current process
type Wait4Waiter struct{}

// NewWaiter returns the platform waiter
func NewWaiter() (Waiter, error) {
	return Wait4Waiter{}, nil
}

// Reap implements Waiter
func (Wait4Waiter) Reap() (Exit, bool, error) {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return Exit{}, false, nil
		case err != nil:
			return Exit{}, false, fmt.Errorf("wait4 failed: %w", err)
		case pid <= 0:
			return Exit{}, false, nil
		}

		exit := Exit{PID: pid, Signaled: status.Signaled()}
		if status.Exited() {
			exit.Code = status.ExitStatus()
		}
		return exit, true, nil
	}
}

// InheritedConn rebuilds the client connection handed over by the parent
func InheritedConn() (net.Conn, error) {
	f := os.NewFile(childConnFD, "rtsp-client")
	if f == nil {
		return nil, fmt.Errorf("no inherited descriptor %d", childConnFD)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild inherited connection: %w", err)
	}
	return conn, nil
}
