// Package server implements the RTSP admission gate, the two connection
// models (cooperative clients on the worker loop, or one child process per
// connection with a reaper) and the HTTP monitoring API.
package server
