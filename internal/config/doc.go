// Package config provides configuration loading and validation for the RTSP server.
// It handles YAML-based configuration layered over built-in defaults, with
// per-section validation of admission, liveness and process isolation parameters.
package config
