package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// ErrStopped is returned when work is submitted to a loop that is no longer running
var ErrStopped = errors.New("event loop stopped")

// Loop executes callbacks one at a time on a single goroutine.
// Any goroutine may post work; callbacks never run concurrently with each other.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue // of func()
	wake    chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool

	dispatched atomic.Uint64
}

// New creates a loop; callbacks are dispatched once Run is called
func New(logger *slog.Logger) *Loop {
	return &Loop{
		logger:  logger,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Post enqueues fn for execution on the loop goroutine. It never blocks.
// It returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}

	l.mu.Lock()
	l.pending.Add(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits until it has run on the loop
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		// The loop may have executed fn right before exiting.
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches callbacks until ctx is cancelled or Stop is called.
// It returns nil after Stop and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("event loop already running")
	}
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		}

		for {
			fn := l.next()
			if fn == nil {
				break
			}
			l.dispatch(fn)

			// Stop takes effect between callbacks.
			select {
			case <-l.stop:
				return nil
			default:
			}
		}
	}
}

// Stop ends Run after the current callback returns. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// Done is closed once Run has returned
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of callbacks waiting to be dispatched
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

// Dispatched returns the number of callbacks executed so far
func (l *Loop) Dispatched() uint64 {
	return l.dispatched.Load()
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending.Length() == 0 {
		return nil
	}
	return l.pending.Remove().(func())
}

func (l *Loop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Event loop callback panicked",
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.dispatched.Add(1)
	fn()
}
