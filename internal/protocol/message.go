package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

var headerTerminator = []byte("\r\n\r\n")

// Message is a framed RTSP text message: start line, headers and body
type Message struct {
	StartLine string
	Headers   map[string]string // keys lower-cased
	Body      []byte
}

// Method returns the request method, or an empty string for responses
func (m *Message) Method() string {
	if strings.HasPrefix(m.StartLine, "RTSP/") {
		return ""
	}
	method, _, _ := strings.Cut(m.StartLine, " ")
	return method
}

// Header returns the value of a header, matched case-insensitively
func (m *Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

// ParseMessage frames one text message from the start of data.
// It returns the number of bytes consumed; zero with a nil error means more
// data is needed.
func ParseMessage(data []byte) (*Message, int, error) {
	end := bytes.Index(data, headerTerminator)
	if end < 0 {
		if len(data) > MaxHeaderBlockSize {
			return nil, 0, fmt.Errorf("header block exceeds %d bytes", MaxHeaderBlockSize)
		}
		return nil, 0, nil
	}

	lines := strings.Split(string(data[:end]), "\r\n")
	msg := &Message{
		StartLine: strings.TrimSpace(lines[0]),
		Headers:   make(map[string]string, len(lines)-1),
	}
	if msg.StartLine == "" {
		return nil, 0, fmt.Errorf("empty start line")
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("malformed header line: %q", line)
		}
		msg.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	headerLen := end + len(headerTerminator)
	bodyLen := 0
	if cl := msg.Header("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("invalid Content-Length: %q", cl)
		}
		if n > MaxBodySize {
			return nil, 0, fmt.Errorf("body of %d bytes exceeds %d", n, MaxBodySize)
		}
		bodyLen = n
	}

	if len(data) < headerLen+bodyLen {
		return nil, 0, nil
	}
	if bodyLen > 0 {
		msg.Body = make([]byte, bodyLen)
		copy(msg.Body, data[headerLen:headerLen+bodyLen])
	}

	return msg, headerLen + bodyLen, nil
}

// WriteResponse appends a response status line, headers and optional body to buf.
// Headers are written in the order given.
func WriteResponse(buf *bytes.Buffer, status int, reason string, headers [][2]string, body []byte) {
	fmt.Fprintf(buf, "RTSP/1.0 %d %s\r\n", status, reason)
	for _, h := range headers {
		fmt.Fprintf(buf, "%s: %s\r\n", h[0], h[1])
	}
	if len(body) > 0 {
		fmt.Fprintf(buf, "Content-Length: %d\r\n", len(body))
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}
