// Package config provides configuration parsing and validation for the
// securesend transfer engine.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Rendezvous   RendezvousConfig   `yaml:"rendezvous"`
	Credential   CredentialConfig   `yaml:"credential"`
	Handshake    HandshakeConfig    `yaml:"handshake"`
	Direct       DirectConfig       `yaml:"direct"`
	Cloud        CloudConfig        `yaml:"cloud"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RendezvousConfig configures the publish/subscribe substrate client.
type RendezvousConfig struct {
	// Endpoints is the ordered list of relay websocket URLs. Publish
	// succeeds on the first endpoint that accepts the event; query and
	// subscribe try each in order until one dials.
	Endpoints []string `yaml:"endpoints"`

	// EventTTL is loaded from the config file but not read: event expiry
	// is decided by rendezvous.Event.IsExpired from the event's expiration
	// tag, or else from the fixed rendezvous.DefaultTTL after CreatedAt.
	EventTTL time.Duration `yaml:"event_ttl"`

	// ProbeTimeout bounds the pre-send relay connectivity probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// CredentialConfig tunes PIN and passkey credential derivation.
type CredentialConfig struct {
	// PBKDF2Iterations is checked by Validate but not read by
	// credential.DeriveFromPin, which always uses credential.Iterations.
	PBKDF2Iterations int `yaml:"pbkdf2_iterations"`

	// PinTTL is loaded from the config file but not enforced: a generated
	// PIN carries no expiry of its own.
	PinTTL time.Duration `yaml:"pin_ttl"`
}

// HandshakeConfig tunes the PFS handshake engine.
type HandshakeConfig struct {
	// Timeout is checked by Validate but not read by the handshake
	// engine, which waits up to its fixed handshake.HandshakeTTL for the
	// counterparty's half of the handshake.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is how often the orchestrator re-queries the substrate
	// for direct-transport signal events and for cloud chunk_notify and
	// ack events. The handshake engine polls on its own fixed interval.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DirectConfig configures the peer-to-peer NAT-traversal transport.
type DirectConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	TURNServers []string `yaml:"turn_servers"`
	TURNUser    string   `yaml:"turn_username"`
	TURNPass    string   `yaml:"turn_password"`

	// GatherTimeout bounds ICE candidate gathering.
	GatherTimeout time.Duration `yaml:"gather_timeout"`

	// ChannelOpenTimeout bounds waiting for the data channel to open
	// once ICE connectivity checks succeed.
	ChannelOpenTimeout time.Duration `yaml:"channel_open_timeout"`

	// ChunkSize is the size in bytes of each chunk frame sent over the
	// data channel.
	ChunkSize int `yaml:"chunk_size"`

	// RateLimitBytesPerSecond bounds the sender's outbound rate; 0
	// disables rate limiting.
	RateLimitBytesPerSecond int `yaml:"rate_limit_bytes_per_second"`
}

// CloudConfig configures the blob-store fallback transport.
type CloudConfig struct {
	// Endpoint is the host:port of the blob-store QUIC service.
	Endpoint string `yaml:"endpoint"`

	// ChunkSize is the size in bytes of each uploaded blob chunk.
	ChunkSize int `yaml:"chunk_size"`

	// InFlightWindow is checked by Validate but not read by the cloud
	// transport: cloud.Send always waits for each chunk's acknowledgment
	// before uploading the next, a window of 1.
	InFlightWindow int `yaml:"in_flight_window"`

	// RetryAttempts and the backoff bounds govern per-chunk retry on
	// transient upload/download failure.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryMinDelay time.Duration `yaml:"retry_min_delay"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// OrchestratorConfig tunes the top-level send/receive state machine.
type OrchestratorConfig struct {
	// MaxFileSize bounds the size of a file the engine will attempt to
	// transfer.
	MaxFileSize int64 `yaml:"max_file_size"`

	// DirectAttemptTimeout bounds how long the orchestrator waits for
	// the direct transport before falling back to cloud.
	DirectAttemptTimeout time.Duration `yaml:"direct_attempt_timeout"`

	// StateBufferSize sizes the channel used to stream orchestrator
	// state transitions to a caller-supplied observer.
	StateBufferSize int `yaml:"state_buffer_size"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config populated with the engine's default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Rendezvous: RendezvousConfig{
			Endpoints:    []string{},
			EventTTL:     time.Hour,
			ProbeTimeout: 5 * time.Second,
		},
		Credential: CredentialConfig{
			PBKDF2Iterations: 600_000,
			PinTTL:           10 * time.Minute,
		},
		Handshake: HandshakeConfig{
			Timeout:      2 * time.Minute,
			PollInterval: 500 * time.Millisecond,
		},
		Direct: DirectConfig{
			STUNServers:             []string{"stun:stun.l.google.com:19302"},
			GatherTimeout:           10 * time.Second,
			ChannelOpenTimeout:      10 * time.Second,
			ChunkSize:               16 * 1024,
			RateLimitBytesPerSecond: 0,
		},
		Cloud: CloudConfig{
			ChunkSize:      4 * 1024 * 1024,
			InFlightWindow: 1,
			RetryAttempts:  3,
			RetryMinDelay:  time.Second,
			RetryMaxDelay:  8 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxFileSize:          10 * 1024 * 1024 * 1024, // 10 GiB
			DirectAttemptTimeout: 15 * time.Second,
			StateBufferSize:      16,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default and
// overlaying whatever the document sets.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, supporting ${VAR:-default} fallbacks.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging.level invalid: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging.format invalid: %s (must be text or json)", c.Logging.Format))
	}

	if c.Credential.PBKDF2Iterations < 100_000 {
		errs = append(errs, "credential.pbkdf2_iterations must be at least 100000")
	}

	if c.Handshake.Timeout <= 0 {
		errs = append(errs, "handshake.timeout must be positive")
	}
	if c.Handshake.PollInterval <= 0 {
		errs = append(errs, "handshake.poll_interval must be positive")
	}

	if c.Direct.ChunkSize <= 0 {
		errs = append(errs, "direct.chunk_size must be positive")
	}
	if c.Direct.GatherTimeout <= 0 {
		errs = append(errs, "direct.gather_timeout must be positive")
	}
	if c.Direct.ChannelOpenTimeout <= 0 {
		errs = append(errs, "direct.channel_open_timeout must be positive")
	}

	if c.Cloud.ChunkSize <= 0 {
		errs = append(errs, "cloud.chunk_size must be positive")
	}
	if c.Cloud.InFlightWindow < 1 {
		errs = append(errs, "cloud.in_flight_window must be at least 1")
	}
	if c.Cloud.RetryAttempts < 0 {
		errs = append(errs, "cloud.retry_attempts must not be negative")
	}
	if c.Cloud.RetryMaxDelay < c.Cloud.RetryMinDelay {
		errs = append(errs, "cloud.retry_max_delay must be >= cloud.retry_min_delay")
	}

	if c.Orchestrator.MaxFileSize <= 0 {
		errs = append(errs, "orchestrator.max_file_size must be positive")
	}
	if c.Orchestrator.DirectAttemptTimeout <= 0 {
		errs = append(errs, "orchestrator.direct_attempt_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
