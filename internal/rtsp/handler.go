package rtsp

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/skypro1111/rtsp-supervisor/internal/protocol"
)

// RequestHandler consumes buffered client input. It is invoked on the loop
// each time new bytes arrive and leaves incomplete data in the buffer.
type RequestHandler interface {
	HandleInput(c *Client)
}

// HandlerFunc adapts a function to RequestHandler
type HandlerFunc func(c *Client)

// HandleInput implements RequestHandler
func (f HandlerFunc) HandleInput(c *Client) {
	f(c)
}

// supportedMethods is advertised in the Public header of OPTIONS replies
const supportedMethods = "OPTIONS"

// BasicHandler frames RTSP messages and interleaved frames. It answers
// OPTIONS, rejects every other method and treats RTCP arriving on a session
// control channel as a liveness acknowledgment.
type BasicHandler struct{}

// HandleInput implements RequestHandler
func (h BasicHandler) HandleInput(c *Client) {
	in := c.Input()
	for in.Len() > 0 {
		data := in.Bytes()

		if protocol.IsInterleaved(data) {
			frame, n, err := protocol.ParseInterleaved(data)
			if err != nil {
				h.fail(c, in, err)
				return
			}
			if n == 0 {
				return
			}
			in.Next(n)
			h.handleFrame(c, frame)
			continue
		}

		msg, n, err := protocol.ParseMessage(data)
		if err != nil {
			h.fail(c, in, err)
			return
		}
		if n == 0 {
			return
		}
		in.Next(n)
		h.handleMessage(c, msg)
	}
}

func (h BasicHandler) fail(c *Client, in *bytes.Buffer, err error) {
	c.Logger().Warn("Malformed client input", slog.String("error", err.Error()))
	in.Reset()
	c.RequestDisconnect()
}

func (h BasicHandler) handleFrame(c *Client, frame *protocol.InterleavedFrame) {
	now := c.worker.Now()
	for _, s := range c.sessions {
		if s.RTCPChannel != frame.Channel {
			continue
		}
		// any arrival on the control channel counts, decodable or not
		s.RTCPReceived(now)
		packets, err := protocol.ParseRTCP(frame.Payload)
		if err != nil {
			c.logger.Debug("Undecodable RTCP from client",
				slog.String("ssrc", fmt.Sprintf("%08x", s.SSRC)),
				slog.String("error", err.Error()),
			)
			return
		}
		c.logger.Debug("RTCP received",
			slog.String("ssrc", fmt.Sprintf("%08x", s.SSRC)),
			slog.Int("packets", len(packets)),
			slog.Bool("reports_on_session", protocol.ReportsOn(packets, s.SSRC)),
		)
		return
	}
	c.logger.Debug("Dropping interleaved frame on unknown channel",
		slog.Int("channel", int(frame.Channel)),
		slog.Int("size", len(frame.Payload)),
	)
}

func (h BasicHandler) handleMessage(c *Client, msg *protocol.Message) {
	method := msg.Method()
	if method == "" {
		// responses to server-initiated requests need no reply
		return
	}

	headers := make([][2]string, 0, 2)
	if cseq := msg.Header("CSeq"); cseq != "" {
		headers = append(headers, [2]string{"CSeq", cseq})
	}

	buf := c.NewBuffer()
	if method == "OPTIONS" {
		headers = append(headers, [2]string{"Public", supportedMethods})
		protocol.WriteResponse(buf, 200, "OK", headers, nil)
	} else {
		c.logger.Debug("Unsupported method", slog.String("method", method))
		protocol.WriteResponse(buf, 501, "Not Implemented", headers, nil)
	}

	if err := c.Send(buf); err != nil {
		c.logger.Debug("Failed to queue response", slog.String("error", err.Error()))
	}
}
