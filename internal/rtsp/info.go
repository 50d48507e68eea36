package rtsp

import "time"

// ClientInfo is a JSON-friendly view of a client
type ClientInfo struct {
	ID            string        `json:"id"`
	RemoteAddr    string        `json:"remote_addr"`
	CreatedAt     time.Time     `json:"created_at"`
	Duration      string        `json:"duration"`
	InputBytes    int           `json:"input_bytes"`
	QueuedBuffers int           `json:"queued_buffers"`
	Writing       bool          `json:"writing"`
	Closing       bool          `json:"closing"`
	Sessions      []SessionInfo `json:"sessions"`
}

// SessionInfo is a JSON-friendly view of a session
type SessionInfo struct {
	SSRC           uint32    `json:"ssrc"`
	Source         string    `json:"source"`
	RTPChannel     uint8     `json:"rtp_channel"`
	RTCPChannel    uint8     `json:"rtcp_channel"`
	LastPacketSent time.Time `json:"last_packet_sent"`
	LastRTCPRead   time.Time `json:"last_rtcp_read"`
	PacketCount    uint32    `json:"packet_count"`
	OctetCount     uint32    `json:"octet_count"`
	ByeSent        bool      `json:"bye_sent"`
}
