package rtsp

import (
	"bytes"
	"sync"
)

// maxPooledBuffer keeps oversized buffers from pinning memory in the pool
const maxPooledBuffer = 64 * 1024

// BufferPool allocates and recycles output buffers. Implementations must be
// safe for concurrent use: buffers are released from writer goroutines too.
type BufferPool interface {
	Get() *bytes.Buffer
	Put(buf *bytes.Buffer)
}

type syncBufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a BufferPool backed by sync.Pool
func NewBufferPool() BufferPool {
	return &syncBufferPool{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

func (p *syncBufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *syncBufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
