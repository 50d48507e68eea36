package eventloop

import "time"

// Timer is a repeat timer whose callback runs on the loop.
// All methods must be called from the loop goroutine.
type Timer struct {
	loop   *Loop
	repeat time.Duration
	cb     func()

	t      *time.Timer
	gen    uint64
	active bool
}

// NewTimer creates a disarmed timer firing every repeat once armed with Again
func NewTimer(loop *Loop, repeat time.Duration, cb func()) *Timer {
	return &Timer{loop: loop, repeat: repeat, cb: cb}
}

// Again (re)arms the timer to fire after the repeat interval.
// A firing already in flight from a previous arming is discarded.
func (t *Timer) Again() {
	t.disarm()
	t.gen++
	t.active = true

	gen := t.gen
	t.t = time.AfterFunc(t.repeat, func() {
		t.loop.Post(func() { t.fire(gen) })
	})
}

// Stop disarms the timer
func (t *Timer) Stop() {
	t.disarm()
	t.gen++
	t.active = false
}

// Active reports whether the timer is armed
func (t *Timer) Active() bool {
	return t.active
}

// Repeat returns the timer period
func (t *Timer) Repeat() time.Duration {
	return t.repeat
}

func (t *Timer) disarm() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) fire(gen uint64) {
	if !t.active || gen != t.gen {
		return
	}
	t.active = false
	t.t = nil
	t.cb()
}
