package rtsp

import (
	"fmt"

	"github.com/skypro1111/rtsp-supervisor/internal/protocol"
)

// ControlChannel emits the out-of-band notifications used by liveness supervision
type ControlChannel interface {
	// SendBye announces the end of the stream to the peer
	SendBye(s *Session) error
	// SendHeartbeat emits a keep-alive report for the session
	SendHeartbeat(s *Session) error
}

// InterleavedControl sends RTCP compound packets as interleaved frames on the
// session's control channel of the RTSP connection
type InterleavedControl struct {
	// Reason is carried in BYE packets; empty means no reason
	Reason string
}

// SendBye implements ControlChannel
func (ic InterleavedControl) SendBye(s *Session) error {
	now := s.client.worker.Now()
	packet, err := protocol.BuildBye(s.SSRC, s.senderStats(now), ic.Reason)
	if err != nil {
		return err
	}
	return ic.send(s, packet)
}

// SendHeartbeat implements ControlChannel
func (ic InterleavedControl) SendHeartbeat(s *Session) error {
	now := s.client.worker.Now()
	cname := s.CNAME
	if cname == "" {
		cname = s.client.ID.String()
	}
	packet, err := protocol.BuildSDES(s.SSRC, s.senderStats(now), cname)
	if err != nil {
		return err
	}
	return ic.send(s, packet)
}

func (ic InterleavedControl) send(s *Session, packet []byte) error {
	buf := s.client.NewBuffer()
	if err := protocol.WriteInterleaved(buf, s.RTCPChannel, packet); err != nil {
		s.client.releaseBuffer(buf)
		return fmt.Errorf("failed to frame RTCP packet: %w", err)
	}
	return s.client.Send(buf)
}
