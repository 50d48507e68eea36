package eventloop

import "sync/atomic"

// Watcher delivers readiness events produced by a background goroutine to a
// callback on the loop. Events are dropped while the watcher is stopped,
// including events that were queued before Stop was called.
type Watcher[T any] struct {
	loop   *Loop
	cb     func(T)
	active atomic.Bool
}

// NewWatcher creates an inactive watcher bound to loop
func NewWatcher[T any](loop *Loop, cb func(T)) *Watcher[T] {
	return &Watcher[T]{loop: loop, cb: cb}
}

// Start activates the watcher
func (w *Watcher[T]) Start() {
	w.active.Store(true)
}

// Stop deactivates the watcher
func (w *Watcher[T]) Stop() {
	w.active.Store(false)
}

// Active reports whether the watcher is started
func (w *Watcher[T]) Active() bool {
	return w.active.Load()
}

// Notify posts ev to the callback. It returns false when the watcher is
// inactive or the loop has stopped.
func (w *Watcher[T]) Notify(ev T) bool {
	if !w.active.Load() {
		return false
	}
	return w.loop.Post(func() {
		if w.active.Load() {
			w.cb(ev)
		}
	})
}

// NotifyOrDrop is Notify for events that own a resource: drop receives ev
// whenever the callback will not, including when the watcher is stopped after
// ev was queued.
func (w *Watcher[T]) NotifyOrDrop(ev T, drop func(T)) bool {
	if !w.active.Load() {
		drop(ev)
		return false
	}
	posted := w.loop.Post(func() {
		if w.active.Load() {
			w.cb(ev)
		} else {
			drop(ev)
		}
	})
	if !posted {
		drop(ev)
	}
	return posted
}
