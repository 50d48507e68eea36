package eventloop

import "sync/atomic"

// Async is a coalescing wake-up that runs its callback on the loop.
// Send may be called from any goroutine; sends that arrive before the callback
// has been dispatched collapse into a single invocation. Once stopped, the
// callback never runs again and further sends are no-ops.
type Async struct {
	loop    *Loop
	cb      func()
	active  atomic.Bool
	pending atomic.Bool
}

// NewAsync creates an inactive async signal bound to loop
func NewAsync(loop *Loop, cb func()) *Async {
	return &Async{loop: loop, cb: cb}
}

// Start makes the signal deliverable
func (a *Async) Start() {
	a.active.Store(true)
}

// Stop disarms the signal, including any send already queued on the loop
func (a *Async) Stop() {
	a.active.Store(false)
}

// Active reports whether the signal is started
func (a *Async) Active() bool {
	return a.active.Load()
}

// Send requests the callback to run on the loop
func (a *Async) Send() {
	if !a.active.Load() {
		return
	}
	if !a.pending.CompareAndSwap(false, true) {
		return
	}
	if !a.loop.Post(a.dispatch) {
		a.pending.Store(false)
	}
}

func (a *Async) dispatch() {
	a.pending.Store(false)
	if !a.active.Load() {
		return
	}
	a.cb()
}
