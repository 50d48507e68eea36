package rtsp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
)

// onLivenessTick evaluates every session of the client and re-arms the timer.
// Disconnects requested here take effect on a later loop iteration, so the
// timer is re-armed unconditionally and stopped by teardown.
func (c *Client) onLivenessTick() {
	now := c.worker.Now()
	for _, s := range c.sessions {
		c.checkSession(s, now)
	}
	c.timer.Again()
}

func (c *Client) checkSession(s *Session, now time.Time) {
	policy := c.worker.cfg.Liveness
	idle := now.Sub(s.lastPacketSent)
	logger := c.logger.With(slog.String("ssrc", fmt.Sprintf("%08x", s.SSRC)))

	// Soft expiry only concerns real-time sources and fires once per session
	if s.Source == SourceLive && !s.byeSent && idle >= policy.SoftTimeout {
		logger.Info("Soft stream timeout", slog.Duration("idle", idle))
		c.worker.metrics.RecordSoftTimeout()
		if c.sendControl(metrics.ControlBye, s, logger) {
			s.byeSent = true
		}
	}

	if !policy.HeartbeatAware {
		if idle >= policy.HardTimeout {
			logger.Info("Stream timeout, client kicked off", slog.Duration("idle", idle))
			c.worker.metrics.RecordHardTimeout()
			c.RequestDisconnect()
		}
		return
	}

	if s.byeSent && idle >= policy.HardTimeout {
		logger.Info("Stream timeout, client kicked off", slog.Duration("idle", idle))
		c.worker.metrics.RecordHardTimeout()
		c.RequestDisconnect()
		return
	}

	c.sendControl(metrics.ControlHeartbeat, s, logger)

	if policy.RTCPHeartbeat {
		silent := now.Sub(s.lastRTCPRead)
		if silent >= policy.HeartbeatTimeout {
			logger.Info("Client lost connection", slog.Duration("rtcp_silence", silent))
			c.worker.metrics.RecordHeartbeatEviction()
			c.RequestDisconnect()
		}
	}
}

func (c *Client) sendControl(msgType string, s *Session, logger *slog.Logger) bool {
	var err error
	switch msgType {
	case metrics.ControlBye:
		err = c.worker.control.SendBye(s)
	case metrics.ControlHeartbeat:
		err = c.worker.control.SendHeartbeat(s)
	default:
		err = fmt.Errorf("unknown control message type %q", msgType)
	}

	if err != nil {
		logger.Warn("Failed to send control message",
			slog.String("type", msgType),
			slog.String("error", err.Error()),
		)
		c.worker.metrics.RecordControlSendFailure(msgType)
		return false
	}

	c.worker.metrics.RecordControlMessage(msgType)
	return true
}
