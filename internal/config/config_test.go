package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default configuration should be valid: %v", err)
	}

	if cfg.Liveness.SoftTimeout != 6 || cfg.Liveness.HardTimeout != 12 || cfg.Liveness.HeartbeatTimeout != 60 {
		t.Errorf("Unexpected liveness defaults: %+v", cfg.Liveness)
	}

	if cfg.Server.Mode != ModeCooperative {
		t.Errorf("Expected default mode %q, got %q", ModeCooperative, cfg.Server.Mode)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid server port",
			mutate:   func(c *Config) { c.Server.RTSPPort = 70000 },
			errorMsg: "server config: rtsp_port",
		},
		{
			name:     "unknown mode",
			mutate:   func(c *Config) { c.Server.Mode = "threads" },
			errorMsg: "server config: mode",
		},
		{
			name:     "zero ceiling",
			mutate:   func(c *Config) { c.Server.MaxConnections = 0 },
			errorMsg: "max_connections",
		},
		{
			name:     "hard not a multiple of soft",
			mutate:   func(c *Config) { c.Liveness.HardTimeout = 10 },
			errorMsg: "liveness config: hard_timeout (10) must be a multiple of soft_timeout (6)",
		},
		{
			name:     "hard below soft",
			mutate:   func(c *Config) { c.Liveness.HardTimeout = 3 },
			errorMsg: "must not be smaller than soft_timeout",
		},
		{
			name:     "tick longer than soft",
			mutate:   func(c *Config) { c.Liveness.TickInterval = 7 },
			errorMsg: "tick_interval",
		},
		{
			name: "process section ignored in cooperative mode",
			mutate: func(c *Config) {
				c.Process.RTPPortMin = 1
			},
		},
		{
			name: "odd rtp port in process mode",
			mutate: func(c *Config) {
				c.Server.Mode = ModeProcess
				c.Process.RTPPortMin = 5001
			},
			errorMsg: "process config: rtp_port_min must be even",
		},
		{
			name: "empty port range in process mode",
			mutate: func(c *Config) {
				c.Server.Mode = ModeProcess
				c.Process.RTPPortMax = c.Process.RTPPortMin + 1
			},
			errorMsg: "rtp_port_max",
		},
		{
			name: "http disabled skips port check",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "logging config: format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errorMsg, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
server:
  rtsp_port: 8554
  mode: process
  max_connections: 10

liveness:
  soft_timeout: 5
  hard_timeout: 15
  heartbeat_policy: true
  rtcp_heartbeat: true

process:
  rtp_port_min: 20000
  rtp_port_max: 20100

logging:
  level: debug
  format: json
`

	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.RTSPPort != 8554 {
		t.Errorf("Expected rtsp_port 8554, got %d", cfg.Server.RTSPPort)
	}
	if cfg.Server.Mode != ModeProcess {
		t.Errorf("Expected mode process, got %s", cfg.Server.Mode)
	}
	if cfg.Server.MaxConnections != 10 {
		t.Errorf("Expected max_connections 10, got %d", cfg.Server.MaxConnections)
	}

	// Keys missing from the file keep their defaults
	if cfg.Server.BindAddress != "0.0.0.0" {
		t.Errorf("Expected default bind_address, got %q", cfg.Server.BindAddress)
	}
	if cfg.Liveness.HeartbeatTimeout != 60 {
		t.Errorf("Expected default heartbeat_timeout 60, got %d", cfg.Liveness.HeartbeatTimeout)
	}
	if cfg.Process.ReapInterval != 5 {
		t.Errorf("Expected default reap_interval 5, got %d", cfg.Process.ReapInterval)
	}

	if !cfg.Liveness.HeartbeatPolicy || !cfg.Liveness.RTCPHeartbeat {
		t.Errorf("Expected heartbeat policy and rtcp heartbeat enabled, got %+v", cfg.Liveness)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected json format, got %s", cfg.Logging.Format)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}

	tempDir := t.TempDir()

	badYAML := filepath.Join(tempDir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := Load(badYAML); err == nil {
		t.Error("Expected parse error for malformed YAML")
	}

	invalid := filepath.Join(tempDir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("liveness:\n  hard_timeout: 13\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	_, err := Load(invalid)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "multiple of soft_timeout") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	liveness := LivenessConfig{
		SoftTimeout:      6,
		HardTimeout:      12,
		HeartbeatTimeout: 60,
	}

	if liveness.GetSoftTimeout() != 6*time.Second {
		t.Errorf("Expected 6s, got %v", liveness.GetSoftTimeout())
	}
	if liveness.GetHardTimeout() != 12*time.Second {
		t.Errorf("Expected 12s, got %v", liveness.GetHardTimeout())
	}
	if liveness.GetHeartbeatTimeout() != time.Minute {
		t.Errorf("Expected 1m, got %v", liveness.GetHeartbeatTimeout())
	}

	// Tick falls back to the soft threshold
	if liveness.GetTickInterval() != 6*time.Second {
		t.Errorf("Expected tick 6s, got %v", liveness.GetTickInterval())
	}
	liveness.TickInterval = 2
	if liveness.GetTickInterval() != 2*time.Second {
		t.Errorf("Expected tick 2s, got %v", liveness.GetTickInterval())
	}

	process := ProcessConfig{ReapInterval: 5, ExitGrace: 1}
	if process.GetReapInterval() != 5*time.Second {
		t.Errorf("Expected 5s, got %v", process.GetReapInterval())
	}
	if process.GetExitGrace() != time.Second {
		t.Errorf("Expected 1s, got %v", process.GetExitGrace())
	}
}
