package rtsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
)

// ErrClientClosed is returned when output is queued on a client being torn down
var ErrClientClosed = errors.New("client connection closed")

// readEvent carries one chunk of input or the terminal read error
type readEvent struct {
	data []byte
	err  error
}

// Client is one accepted RTSP connection. Unless noted otherwise its methods
// must be called on the worker's loop.
type Client struct {
	ID uuid.UUID

	worker  *Worker
	conn    net.Conn
	remote  string
	created time.Time
	logger  *slog.Logger

	input *bytes.Buffer
	out   *queue.Queue // of *bytes.Buffer, oldest first

	readW      *eventloop.Watcher[readEvent]
	writeW     *eventloop.Watcher[error]
	disconnect *eventloop.Async
	timer      *eventloop.Timer

	readResume chan struct{}
	writeCh    chan *bytes.Buffer
	quit       chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	sessions map[uint32]*Session
	closing  bool
}

// NewClient registers conn with the worker, arms its watchers and starts the
// I/O goroutines. Must be called on the worker's loop.
func NewClient(w *Worker, conn net.Conn) *Client {
	now := w.Now()
	c := &Client{
		ID:         uuid.New(),
		worker:     w,
		conn:       conn,
		remote:     conn.RemoteAddr().String(),
		created:    now,
		input:      new(bytes.Buffer),
		out:        queue.New(),
		readResume: make(chan struct{}, 1),
		writeCh:    make(chan *bytes.Buffer, 1),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		sessions:   make(map[uint32]*Session),
	}
	c.logger = w.logger.With(
		slog.String("client_id", c.ID.String()),
		slog.String("remote_addr", c.remote),
	)

	c.readW = eventloop.NewWatcher(w.loop, c.onReadable)
	c.writeW = eventloop.NewWatcher(w.loop, c.onWritable)
	c.disconnect = eventloop.NewAsync(w.loop, c.teardown)
	c.timer = eventloop.NewTimer(w.loop, w.cfg.Liveness.TickInterval, c.onLivenessTick)

	c.readW.Start()
	c.disconnect.Start()
	c.timer.Again()

	w.register(c)
	count := w.AddConnection()
	w.metrics.RecordConnectionAccepted()

	c.logger.Info("Incoming RTSP connection accepted")
	c.logger.Info("Connection count", slog.Int64("connections", count))

	go c.readLoop()
	go c.writeLoop()

	return c
}

// RemoteAddr returns the peer address
func (c *Client) RemoteAddr() string {
	return c.remote
}

// CreatedAt returns the time the connection was accepted
func (c *Client) CreatedAt() time.Time {
	return c.created
}

// Worker returns the worker the client belongs to
func (c *Client) Worker() *Worker {
	return c.worker
}

// Logger returns the client-scoped logger
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Input returns the buffer of received bytes not yet consumed by the handler
func (c *Client) Input() *bytes.Buffer {
	return c.input
}

// Closing reports whether teardown has started
func (c *Client) Closing() bool {
	return c.closing
}

// Done is closed once the client has been fully released. Safe from any goroutine.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RequestDisconnect asks for the connection to be torn down on a later loop
// iteration. Repeated requests coalesce and requests made after teardown are
// ignored. Safe from any goroutine.
func (c *Client) RequestDisconnect() {
	c.disconnect.Send()
}

// NewBuffer returns an empty output buffer from the worker pool
func (c *Client) NewBuffer() *bytes.Buffer {
	return c.worker.buffers.Get()
}

// Send appends buf to the output queue and takes ownership of it
func (c *Client) Send(buf *bytes.Buffer) error {
	if c.closing {
		c.releaseBuffer(buf)
		return ErrClientClosed
	}

	c.out.Add(buf)
	if !c.writeW.Active() {
		c.writeW.Start()
		c.flushNext()
	}
	return nil
}

// QueuedBuffers returns the number of buffers waiting for the writer
func (c *Client) QueuedBuffers() int {
	if c.out == nil {
		return 0
	}
	return c.out.Length()
}

// AddSession attaches a media session to the client
func (c *Client) AddSession(cfg SessionConfig) (*Session, error) {
	if c.closing {
		return nil, ErrClientClosed
	}
	if _, exists := c.sessions[cfg.SSRC]; exists {
		return nil, fmt.Errorf("session with SSRC %08x already exists", cfg.SSRC)
	}

	s := newSession(c, cfg, c.worker.Now())
	c.sessions[cfg.SSRC] = s
	c.worker.metrics.AddActiveSessions(1)

	c.logger.Debug("Session attached",
		slog.String("ssrc", fmt.Sprintf("%08x", cfg.SSRC)),
		slog.String("source", cfg.Source.String()),
	)
	return s, nil
}

// RemoveSession detaches and frees the session with the given SSRC
func (c *Client) RemoveSession(ssrc uint32) bool {
	s, ok := c.sessions[ssrc]
	if !ok {
		return false
	}
	delete(c.sessions, ssrc)
	if s.free() {
		c.worker.metrics.AddActiveSessions(-1)
	}
	return true
}

// Session looks up a session by SSRC
func (c *Client) Session(ssrc uint32) (*Session, bool) {
	s, ok := c.sessions[ssrc]
	return s, ok
}

// Sessions returns the attached sessions
func (c *Client) Sessions() []*Session {
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Info returns a point-in-time description of the client
func (c *Client) Info() ClientInfo {
	info := ClientInfo{
		ID:            c.ID.String(),
		RemoteAddr:    c.remote,
		CreatedAt:     c.created,
		Duration:      c.worker.Now().Sub(c.created).Round(time.Millisecond).String(),
		QueuedBuffers: c.QueuedBuffers(),
		Writing:       c.writeW.Active(),
		Closing:       c.closing,
		Sessions:      make([]SessionInfo, 0, len(c.sessions)),
	}
	if c.input != nil {
		info.InputBytes = c.input.Len()
	}
	for _, s := range c.sessions {
		info.Sessions = append(info.Sessions, s.info())
	}
	return info
}

// readLoop feeds received bytes to the loop, waiting for each chunk to be
// consumed before reading again
func (c *Client) readLoop() {
	buf := make([]byte, c.worker.cfg.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.readW.Notify(readEvent{data: data}) {
				return
			}
			select {
			case <-c.readResume:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			c.readW.Notify(readEvent{err: err})
			return
		}
	}
}

func (c *Client) onReadable(ev readEvent) {
	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			c.logger.Debug("Client closed the connection")
		} else {
			c.logger.Debug("Client read failed", slog.String("error", ev.err.Error()))
		}
		c.RequestDisconnect()
		return
	}

	c.input.Write(ev.data)
	c.worker.handler.HandleInput(c)

	if limit := c.worker.cfg.MaxInputBytes; limit > 0 && c.input.Len() > limit {
		c.logger.Warn("Client input exceeds limit",
			slog.Int("buffered", c.input.Len()),
			slog.Int("limit", limit),
		)
		c.RequestDisconnect()
		return
	}

	select {
	case c.readResume <- struct{}{}:
	default:
	}
}

// writeLoop writes one buffer at a time and releases it as soon as the write returns
func (c *Client) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case buf := <-c.writeCh:
			_, err := c.conn.Write(buf.Bytes())
			c.releaseBuffer(buf)
			c.writeW.Notify(err)
		case <-c.quit:
			return
		}
	}
}

// flushNext hands the oldest queued buffer to the writer, or stops the write
// watcher when nothing is pending. The writer is idle whenever this runs.
func (c *Client) flushNext() {
	if c.out.Length() == 0 {
		c.writeW.Stop()
		return
	}
	c.writeCh <- c.out.Remove().(*bytes.Buffer)
}

func (c *Client) onWritable(err error) {
	if err != nil {
		c.logger.Debug("Client write failed", slog.String("error", err.Error()))
		c.RequestDisconnect()
		return
	}
	c.flushNext()
}

func (c *Client) releaseBuffer(buf *bytes.Buffer) {
	c.worker.buffers.Put(buf)
	c.worker.metrics.RecordBufferReleased()
}

// teardown is the disconnect signal callback. It runs at most once per client.
func (c *Client) teardown() {
	if c.closing {
		return
	}
	c.closing = true

	c.readW.Stop()
	c.writeW.Stop()
	c.disconnect.Stop()
	c.timer.Stop()
	close(c.quit)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Failed to close client connection", slog.String("error", err.Error()))
	}

	remaining := c.worker.RemoveConnection()
	c.logger.Info("Client disconnected",
		slog.Int64("connections", remaining),
	)

	for ssrc, s := range c.sessions {
		delete(c.sessions, ssrc)
		if s.free() {
			c.worker.metrics.AddActiveSessions(-1)
		}
	}

	// The remaining steps wait for the writer so a buffer still in flight is
	// released ahead of the queued ones.
	select {
	case <-c.writerDone:
		c.release()
	default:
		go func() {
			<-c.writerDone
			if !c.worker.loop.Post(c.release) {
				c.release()
			}
		}()
	}
}

func (c *Client) release() {
	select {
	case buf := <-c.writeCh:
		c.releaseBuffer(buf)
	default:
	}
	for c.out.Length() > 0 {
		c.releaseBuffer(c.out.Remove().(*bytes.Buffer))
	}
	c.out = nil
	c.input = nil

	c.worker.unregister(c)

	lifetime := c.worker.Now().Sub(c.created)
	c.worker.metrics.RecordClientRemoved(lifetime.Seconds())
	c.logger.Info("Client removed", slog.Duration("lifetime", lifetime))

	if c.worker.onTeardown != nil {
		c.worker.onTeardown(c)
	}

	close(c.done)
}
