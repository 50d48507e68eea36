//go:build !unix

package server

import (
	"log/slog"
	"net"
)

// ExecSpawner is unavailable on this platform
type ExecSpawner struct{}

// NewExecSpawner reports that child processes are not supported
func NewExecSpawner(logger *slog.Logger, args ...string) (*ExecSpawner, error) {
	return nil, ErrProcessModeUnsupported
}

// Spawn implements Spawner
func (s *ExecSpawner) Spawn(conn net.Conn, slot *ChildSlot) (int, error) {
	return 0, ErrProcessModeUnsupported
}

// NewWaiter reports that child processes are not supported
func NewWaiter() (Waiter, error) {
	return nil, ErrProcessModeUnsupported
}

// InheritedConn reports that child processes are not supported
func InheritedConn() (net.Conn, error) {
	return nil, ErrProcessModeUnsupported
}
