package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Execution modes for serving client connections
const (
	ModeCooperative = "cooperative"
	ModeProcess     = "process"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Liveness LivenessConfig `yaml:"liveness"`
	Process  ProcessConfig  `yaml:"process"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains RTSP listener and admission configuration
type ServerConfig struct {
	RTSPPort       int    `yaml:"rtsp_port"`
	BindAddress    string `yaml:"bind_address"`
	Mode           string `yaml:"mode"`
	MaxConnections int    `yaml:"max_connections"`  // per-worker ceiling
	ReadBufferSize int    `yaml:"read_buffer_size"` // bytes
	MaxInputBytes  int    `yaml:"max_input_bytes"`  // bytes
}

// LivenessConfig contains media session timeout supervision parameters
type LivenessConfig struct {
	SoftTimeout      int  `yaml:"soft_timeout"`      // seconds
	HardTimeout      int  `yaml:"hard_timeout"`      // seconds
	HeartbeatTimeout int  `yaml:"heartbeat_timeout"` // seconds
	TickInterval     int  `yaml:"tick_interval"`     // seconds, 0 = soft_timeout
	HeartbeatPolicy  bool `yaml:"heartbeat_policy"`
	RTCPHeartbeat    bool `yaml:"rtcp_heartbeat"`
}

// ProcessConfig contains process-per-connection mode parameters
type ProcessConfig struct {
	RTPPortMin   int `yaml:"rtp_port_min"`
	RTPPortMax   int `yaml:"rtp_port_max"`
	ReapInterval int `yaml:"reap_interval"` // seconds
	ExitGrace    int `yaml:"exit_grace"`    // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any key missing from the file
func Default() Config {
	return Config{
		Server: ServerConfig{
			RTSPPort:       554,
			BindAddress:    "0.0.0.0",
			Mode:           ModeCooperative,
			MaxConnections: 100,
			ReadBufferSize: 4096,
			MaxInputBytes:  64 * 1024,
		},
		Liveness: LivenessConfig{
			SoftTimeout:      6,
			HardTimeout:      12,
			HeartbeatTimeout: 60,
		},
		Process: ProcessConfig{
			RTPPortMin:   5000,
			RTPPortMax:   6000,
			ReapInterval: 5,
			ExitGrace:    1,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return config, nil
}

// Parse decodes YAML configuration data on top of the defaults and validates it
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Liveness.Validate(); err != nil {
		return fmt.Errorf("liveness config: %w", err)
	}

	if c.Server.Mode == ModeProcess {
		if err := c.Process.Validate(); err != nil {
			return fmt.Errorf("process config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.RTSPPort < 1 || s.RTSPPort > 65535 {
		return fmt.Errorf("rtsp_port must be between 1 and 65535, got %d", s.RTSPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.Mode != ModeCooperative && s.Mode != ModeProcess {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModeCooperative, ModeProcess, s.Mode)
	}

	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections)
	}

	if s.ReadBufferSize < 512 {
		return fmt.Errorf("read_buffer_size must be at least 512 bytes, got %d", s.ReadBufferSize)
	}

	if s.MaxInputBytes < s.ReadBufferSize {
		return fmt.Errorf("max_input_bytes (%d) must not be smaller than read_buffer_size (%d)",
			s.MaxInputBytes, s.ReadBufferSize)
	}

	return nil
}

// Validate validates liveness configuration
func (l *LivenessConfig) Validate() error {
	if l.SoftTimeout < 1 {
		return fmt.Errorf("soft_timeout must be at least 1 second, got %d", l.SoftTimeout)
	}

	if l.HardTimeout < l.SoftTimeout {
		return fmt.Errorf("hard_timeout (%d) must not be smaller than soft_timeout (%d)",
			l.HardTimeout, l.SoftTimeout)
	}

	// A soft cycle must always complete before the hard one.
	if l.HardTimeout%l.SoftTimeout != 0 {
		return fmt.Errorf("hard_timeout (%d) must be a multiple of soft_timeout (%d)",
			l.HardTimeout, l.SoftTimeout)
	}

	if l.HeartbeatTimeout < 1 {
		return fmt.Errorf("heartbeat_timeout must be at least 1 second, got %d", l.HeartbeatTimeout)
	}

	if l.TickInterval < 0 {
		return fmt.Errorf("tick_interval cannot be negative, got %d", l.TickInterval)
	}

	if l.TickInterval > l.SoftTimeout {
		return fmt.Errorf("tick_interval (%d) must not exceed soft_timeout (%d)",
			l.TickInterval, l.SoftTimeout)
	}

	return nil
}

// Validate validates process isolation configuration
func (p *ProcessConfig) Validate() error {
	if p.RTPPortMin < 1024 || p.RTPPortMin > 65534 {
		return fmt.Errorf("rtp_port_min must be between 1024 and 65534, got %d", p.RTPPortMin)
	}

	if p.RTPPortMin%2 != 0 {
		return fmt.Errorf("rtp_port_min must be even, got %d", p.RTPPortMin)
	}

	if p.RTPPortMax <= p.RTPPortMin+1 || p.RTPPortMax > 65536 {
		return fmt.Errorf("rtp_port_max (%d) must leave room for at least one port pair above rtp_port_min (%d)",
			p.RTPPortMax, p.RTPPortMin)
	}

	if p.ReapInterval < 1 {
		return fmt.Errorf("reap_interval must be at least 1 second, got %d", p.ReapInterval)
	}

	if p.ExitGrace < 0 {
		return fmt.Errorf("exit_grace cannot be negative, got %d", p.ExitGrace)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSoftTimeout returns the soft expiry threshold as a time.Duration
func (l *LivenessConfig) GetSoftTimeout() time.Duration {
	return time.Duration(l.SoftTimeout) * time.Second
}

// GetHardTimeout returns the hard expiry threshold as a time.Duration
func (l *LivenessConfig) GetHardTimeout() time.Duration {
	return time.Duration(l.HardTimeout) * time.Second
}

// GetHeartbeatTimeout returns the heartbeat watchdog threshold as a time.Duration
func (l *LivenessConfig) GetHeartbeatTimeout() time.Duration {
	return time.Duration(l.HeartbeatTimeout) * time.Second
}

// GetTickInterval returns the liveness timer period, falling back to the soft threshold
func (l *LivenessConfig) GetTickInterval() time.Duration {
	if l.TickInterval == 0 {
		return l.GetSoftTimeout()
	}
	return time.Duration(l.TickInterval) * time.Second
}

// GetReapInterval returns the child reaper period as a time.Duration
func (p *ProcessConfig) GetReapInterval() time.Duration {
	return time.Duration(p.ReapInterval) * time.Second
}

// GetExitGrace returns the delay before a child process exits after teardown
func (p *ProcessConfig) GetExitGrace() time.Duration {
	return time.Duration(p.ExitGrace) * time.Second
}
