package rtsp

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/rtsp-supervisor/internal/protocol"
)

func readResponse(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		sb.WriteString(line)
		if line == "\r\n" {
			return sb.String()
		}
	}
}

func TestBasicHandlerResponses(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    []string
	}{
		{
			name:    "options",
			request: "OPTIONS rtsp://example.com/cam RTSP/1.0\r\nCSeq: 1\r\n\r\n",
			want:    []string{"RTSP/1.0 200 OK", "CSeq: 1", "Public: OPTIONS"},
		},
		{
			name:    "unsupported method",
			request: "DESCRIBE rtsp://example.com/cam RTSP/1.0\r\nCSeq: 2\r\nAccept: application/sdp\r\n\r\n",
			want:    []string{"RTSP/1.0 501 Not Implemented", "CSeq: 2"},
		},
		{
			name:    "request with body",
			request: "SET_PARAMETER rtsp://example.com/cam RTSP/1.0\r\nCSeq: 3\r\nContent-Length: 5\r\n\r\nhello",
			want:    []string{"RTSP/1.0 501 Not Implemented", "CSeq: 3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testPolicy())
			_, peer := h.connect(t)
			r := bufio.NewReader(peer)

			go peer.Write([]byte(tt.request))

			resp := readResponse(t, r, peer)
			for _, want := range tt.want {
				assert.Contains(t, resp, want)
			}
		})
	}
}

func TestBasicHandlerWaitsForCompleteMessage(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)
	r := bufio.NewReader(peer)

	_, err := peer.Write([]byte("OPTIONS rtsp://example.com/cam RTSP/1.0\r\nCS"))
	require.NoError(t, err)

	var buffered int
	assert.Eventually(t, func() bool {
		h.do(t, func() { buffered = c.Input().Len() })
		return buffered > 0
	}, 2*time.Second, 10*time.Millisecond)

	go peer.Write([]byte("eq: 9\r\n\r\n"))
	resp := readResponse(t, r, peer)
	assert.Contains(t, resp, "CSeq: 9")

	h.do(t, func() { buffered = c.Input().Len() })
	assert.Zero(t, buffered)
}

func TestBasicHandlerPipelinedRequests(t *testing.T) {
	h := newHarness(t, testPolicy())
	_, peer := h.connect(t)
	r := bufio.NewReader(peer)

	go peer.Write([]byte(
		"OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n" +
			"OPTIONS * RTSP/1.0\r\nCSeq: 2\r\n\r\n",
	))

	assert.Contains(t, readResponse(t, r, peer), "CSeq: 1")
	assert.Contains(t, readResponse(t, r, peer), "CSeq: 2")
}

func TestBasicHandlerMalformedInputDisconnects(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)

	go peer.Write([]byte("OPTIONS * RTSP/1.0\r\nno colon here\r\n\r\n"))
	waitDone(t, c)
}

func TestBasicHandlerRTCPMarksSession(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)
	s := h.attach(t, c, SessionConfig{SSRC: 0x77, RTPChannel: 0, RTCPChannel: 1})

	h.clock.Advance(30 * time.Second)

	var frame bytes.Buffer
	require.NoError(t, protocol.WriteInterleaved(&frame, 1, []byte{0x81, 0xc9, 0x00, 0x01, 0, 0, 0, 1}))
	_, err := peer.Write(frame.Bytes())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var last time.Time
		h.do(t, func() { last = s.LastRTCPRead() })
		return last.Equal(h.clock.Now())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBasicHandlerAcceptsReceiverReport(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)
	s := h.attach(t, c, SessionConfig{SSRC: 0x79, RTPChannel: 2, RTCPChannel: 3})

	h.clock.Advance(45 * time.Second)

	rr, err := (&rtcp.ReceiverReport{
		SSRC:    0xabcd,
		Reports: []rtcp.ReceptionReport{{SSRC: 0x79, LastSequenceNumber: 100}},
	}).Marshal()
	require.NoError(t, err)

	var frame bytes.Buffer
	require.NoError(t, protocol.WriteInterleaved(&frame, 3, rr))
	frame.WriteString("OPTIONS * RTSP/1.0\r\nCSeq: 9\r\n\r\n")
	r := bufio.NewReader(peer)
	go peer.Write(frame.Bytes())

	assert.Contains(t, readResponse(t, r, peer), "CSeq: 9")

	var last time.Time
	h.do(t, func() { last = s.LastRTCPRead() })
	assert.Equal(t, h.clock.Now(), last)
	requireOpen(t, h, c)
}

func TestBasicHandlerDropsUnknownChannel(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)
	s := h.attach(t, c, SessionConfig{SSRC: 0x78, RTPChannel: 0, RTCPChannel: 1})

	var before time.Time
	h.do(t, func() { before = s.LastRTCPRead() })
	h.clock.Advance(10 * time.Second)

	var frame bytes.Buffer
	require.NoError(t, protocol.WriteInterleaved(&frame, 5, []byte("payload")))
	frame.WriteString("OPTIONS * RTSP/1.0\r\nCSeq: 4\r\n\r\n")
	r := bufio.NewReader(peer)
	go peer.Write(frame.Bytes())

	// the reply proves the frame ahead of it was consumed
	assert.Contains(t, readResponse(t, r, peer), "CSeq: 4")

	var last time.Time
	h.do(t, func() { last = s.LastRTCPRead() })
	assert.Equal(t, before, last)
	requireOpen(t, h, c)
}

func TestHandlerFuncOverridesDefault(t *testing.T) {
	got := make(chan string, 1)
	h := newHarness(t, testPolicy(), WithHandler(HandlerFunc(func(c *Client) {
		got <- c.Input().String()
		c.Input().Reset()
	})))
	_, peer := h.connect(t)

	_, err := peer.Write([]byte("raw bytes"))
	require.NoError(t, err)

	select {
	case data := <-got:
		assert.Equal(t, "raw bytes", data)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBasicHandlerLeavesSessionsToCaller(t *testing.T) {
	h := newHarness(t, testPolicy())
	c, peer := h.connect(t)

	r := bufio.NewReader(peer)
	go peer.Write([]byte("SETUP rtsp://example/stream/track1 RTSP/1.0\r\nCSeq: 2\r\nTransport: RTP/AVP/TCP;interleaved=0-1\r\n\r\n"))

	resp := readResponse(t, r, peer)
	assert.Contains(t, resp, "501 Not Implemented")

	var sessions int
	h.do(t, func() { sessions = len(c.Sessions()) })
	assert.Zero(t, sessions)
}
