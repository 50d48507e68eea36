package rtsp

import (
	"time"

	"github.com/skypro1111/rtsp-supervisor/internal/protocol"
)

// MediaSource distinguishes real-time sources from on-demand ones
type MediaSource int

const (
	SourceStored MediaSource = iota
	SourceLive
)

// String implements fmt.Stringer
func (s MediaSource) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceStored:
		return "stored"
	default:
		return "unknown"
	}
}

// SessionConfig describes a media session to attach to a client
type SessionConfig struct {
	SSRC        uint32
	Source      MediaSource
	RTPChannel  uint8
	RTCPChannel uint8
	CNAME       string
}

// Session is one media stream delivered over a client connection. Fields are
// owned by the client's loop.
type Session struct {
	SSRC        uint32
	Source      MediaSource
	RTPChannel  uint8
	RTCPChannel uint8
	CNAME       string

	client  *Client
	created time.Time

	lastPacketSent time.Time
	lastRTCPRead   time.Time
	lastRTPTime    uint32
	packetCount    uint32
	octetCount     uint32

	byeSent bool
	freed   bool
}

func newSession(c *Client, cfg SessionConfig, now time.Time) *Session {
	return &Session{
		SSRC:           cfg.SSRC,
		Source:         cfg.Source,
		RTPChannel:     cfg.RTPChannel,
		RTCPChannel:    cfg.RTCPChannel,
		CNAME:          cfg.CNAME,
		client:         c,
		created:        now,
		lastPacketSent: now,
		lastRTCPRead:   now,
	}
}

// Client returns the connection the session belongs to
func (s *Session) Client() *Client {
	return s.client
}

// PacketSent records an outgoing media packet. The last-sent timestamp never
// moves backwards.
func (s *Session) PacketSent(at time.Time, rtpTime uint32, size int) {
	if at.After(s.lastPacketSent) {
		s.lastPacketSent = at
	}
	s.lastRTPTime = rtpTime
	s.packetCount++
	s.octetCount += uint32(size)
}

// RTCPReceived records a control report from the peer
func (s *Session) RTCPReceived(at time.Time) {
	if at.After(s.lastRTCPRead) {
		s.lastRTCPRead = at
	}
}

// LastPacketSent returns the time of the most recent outgoing media packet
func (s *Session) LastPacketSent() time.Time {
	return s.lastPacketSent
}

// LastRTCPRead returns the time of the most recent control report from the peer
func (s *Session) LastRTCPRead() time.Time {
	return s.lastRTCPRead
}

// ByeSent reports whether the end-of-stream notification has been emitted
func (s *Session) ByeSent() bool {
	return s.byeSent
}

// Freed reports whether the session has been released
func (s *Session) Freed() bool {
	return s.freed
}

func (s *Session) senderStats(now time.Time) protocol.SenderStats {
	return protocol.SenderStats{
		Now:         now,
		RTPTime:     s.lastRTPTime,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		SSRC:           s.SSRC,
		Source:         s.Source.String(),
		RTPChannel:     s.RTPChannel,
		RTCPChannel:    s.RTCPChannel,
		LastPacketSent: s.lastPacketSent,
		LastRTCPRead:   s.lastRTCPRead,
		PacketCount:    s.packetCount,
		OctetCount:     s.octetCount,
		ByeSent:        s.byeSent,
	}
}

func (s *Session) free() bool {
	if s.freed {
		return false
	}
	s.freed = true
	return true
}
