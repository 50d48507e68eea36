package protocol

import (
	"bytes"
	"fmt"
	"math"
)

// Interleaved binary framing used to carry RTP/RTCP over the RTSP connection
const (
	InterleavedMagic      = '$'
	InterleavedHeaderSize = 4 // '$' + channel + 16-bit length
	MaxInterleavedPayload = math.MaxUint16
)

// Limits for text control messages
const (
	MaxHeaderBlockSize = 16 * 1024
	MaxBodySize        = 64 * 1024
)

// InterleavedFrame represents one binary frame received on the control connection
// Layout: ['$':1][Channel:1][Length:2][Payload:N]
type InterleavedFrame struct {
	Channel uint8
	Payload []byte
}

// IsInterleaved reports whether data starts with an interleaved frame marker
func IsInterleaved(data []byte) bool {
	return len(data) > 0 && data[0] == InterleavedMagic
}

// ParseInterleaved parses one interleaved frame from the start of data.
// It returns the number of bytes consumed; zero with a nil error means the
// frame is not complete yet.
func ParseInterleaved(data []byte) (*InterleavedFrame, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	if data[0] != InterleavedMagic {
		return nil, 0, fmt.Errorf("invalid interleaved marker: 0x%02x", data[0])
	}
	if len(data) < InterleavedHeaderSize {
		return nil, 0, nil
	}

	length := int(data[2])<<8 | int(data[3])
	total := InterleavedHeaderSize + length
	if len(data) < total {
		return nil, 0, nil
	}

	frame := &InterleavedFrame{
		Channel: data[1],
		Payload: make([]byte, length),
	}
	copy(frame.Payload, data[InterleavedHeaderSize:total])

	return frame, total, nil
}

// WriteInterleaved appends an interleaved frame carrying payload to buf
func WriteInterleaved(buf *bytes.Buffer, channel uint8, payload []byte) error {
	if len(payload) > MaxInterleavedPayload {
		return fmt.Errorf("interleaved payload too large: %d bytes (max %d)", len(payload), MaxInterleavedPayload)
	}

	buf.Grow(InterleavedHeaderSize + len(payload))
	buf.WriteByte(InterleavedMagic)
	buf.WriteByte(channel)
	buf.WriteByte(byte(len(payload) >> 8))
	buf.WriteByte(byte(len(payload)))
	buf.Write(payload)

	return nil
}
