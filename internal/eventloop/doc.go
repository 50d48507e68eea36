// Package eventloop provides a single-goroutine callback executor with the
// primitives needed to drive connections on it: coalescing async signals,
// repeat timers and readiness watchers.
package eventloop
