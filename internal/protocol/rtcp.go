package protocol

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01
const ntpEpochOffset = 2208988800

// SenderStats describes what a session has sent so far; it fills the sender
// report that leads every compound packet the server emits.
type SenderStats struct {
	Now         time.Time
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
}

// NTPTime converts t to the 64-bit NTP timestamp format
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

func senderReport(ssrc uint32, stats SenderStats) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     NTPTime(stats.Now),
		RTPTime:     stats.RTPTime,
		PacketCount: stats.PacketCount,
		OctetCount:  stats.OctetCount,
	}
}

// BuildBye encodes a compound RTCP packet (SR + BYE) announcing the end of the stream
func BuildBye(ssrc uint32, stats SenderStats, reason string) ([]byte, error) {
	packets := []rtcp.Packet{
		senderReport(ssrc, stats),
		&rtcp.Goodbye{
			Sources: []uint32{ssrc},
			Reason:  reason,
		},
	}

	data, err := rtcp.Marshal(packets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTCP BYE: %w", err)
	}
	return data, nil
}

// BuildSDES encodes a compound RTCP packet (SR + SDES CNAME) used as a heartbeat
func BuildSDES(ssrc uint32, stats SenderStats, cname string) ([]byte, error) {
	packets := []rtcp.Packet{
		senderReport(ssrc, stats),
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: ssrc,
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: cname,
				}},
			}},
		},
	}

	data, err := rtcp.Marshal(packets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTCP SDES: %w", err)
	}
	return data, nil
}

// ParseRTCP decodes a compound RTCP packet
func ParseRTCP(data []byte) ([]rtcp.Packet, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RTCP: %w", err)
	}
	return packets, nil
}

// ReportsOn reports whether any receiver report block in packets refers to ssrc
func ReportsOn(packets []rtcp.Packet, ssrc uint32) bool {
	for _, p := range packets {
		for _, dst := range p.DestinationSSRC() {
			if dst == ssrc {
				return true
			}
		}
	}
	return false
}
