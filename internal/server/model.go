package server

import (
	"net"

	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

// ConnectionModel serves connections that passed admission. All methods run
// on the worker loop.
type ConnectionModel interface {
	// Name identifies the model in logs and the HTTP API
	Name() string
	// Start arms any periodic work of the model
	Start() error
	// Admit takes ownership of an admitted connection
	Admit(conn net.Conn)
	// Stats describes the model state
	Stats() ModelStats
	// Close releases the model resources at shutdown
	Close()
}

// ModelStats is a JSON-friendly view of a connection model
type ModelStats struct {
	Mode          string         `json:"mode"`
	Children      []ChildProcess `json:"children,omitempty"`
	PortsInUse    int            `json:"ports_in_use,omitempty"`
	PortsCapacity int            `json:"ports_capacity,omitempty"`
}

// CooperativeModel serves every connection as a Client on the worker loop
type CooperativeModel struct {
	worker *rtsp.Worker
}

// NewCooperativeModel creates the in-process connection model
func NewCooperativeModel(worker *rtsp.Worker) *CooperativeModel {
	return &CooperativeModel{worker: worker}
}

// Name implements ConnectionModel
func (m *CooperativeModel) Name() string {
	return "cooperative"
}

// Start implements ConnectionModel
func (m *CooperativeModel) Start() error {
	return nil
}

// Admit implements ConnectionModel
func (m *CooperativeModel) Admit(conn net.Conn) {
	rtsp.NewClient(m.worker, conn)
}

// Stats implements ConnectionModel
func (m *CooperativeModel) Stats() ModelStats {
	return ModelStats{Mode: m.Name()}
}

// Close implements ConnectionModel
func (m *CooperativeModel) Close() {
	m.worker.DisconnectAll()
}
