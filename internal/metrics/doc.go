// Package metrics defines the Prometheus instrumentation of the RTSP server.
package metrics
