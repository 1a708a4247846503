package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Credential.PBKDF2Iterations != 600_000 {
		t.Errorf("Credential.PBKDF2Iterations = %d, want 600000", cfg.Credential.PBKDF2Iterations)
	}
	if cfg.Direct.ChunkSize != 16*1024 {
		t.Errorf("Direct.ChunkSize = %d, want 16384", cfg.Direct.ChunkSize)
	}
	if cfg.Cloud.InFlightWindow != 1 {
		t.Errorf("Cloud.InFlightWindow = %d, want 1", cfg.Cloud.InFlightWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config failed validation: %v", err)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	yamlConfig := `
logging:
  level: debug
  format: json

rendezvous:
  endpoints:
    - "wss://relay.example.com"
  event_ttl: 30m

direct:
  stun_servers:
    - "stun:stun.example.com:3478"
  chunk_size: 32768

cloud:
  endpoint: "https://blobs.example.com"
  retry_attempts: 5
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if len(cfg.Rendezvous.Endpoints) != 1 || cfg.Rendezvous.Endpoints[0] != "wss://relay.example.com" {
		t.Errorf("Rendezvous.Endpoints = %v, want 1 entry", cfg.Rendezvous.Endpoints)
	}
	if cfg.Rendezvous.EventTTL != 30*time.Minute {
		t.Errorf("Rendezvous.EventTTL = %v, want 30m", cfg.Rendezvous.EventTTL)
	}
	if cfg.Direct.ChunkSize != 32768 {
		t.Errorf("Direct.ChunkSize = %d, want 32768", cfg.Direct.ChunkSize)
	}
	// A field left unset in the document retains its Default() value.
	if cfg.Direct.GatherTimeout != 10*time.Second {
		t.Errorf("Direct.GatherTimeout = %v, want default 10s", cfg.Direct.GatherTimeout)
	}
	if cfg.Cloud.RetryAttempts != 5 {
		t.Errorf("Cloud.RetryAttempts = %d, want 5", cfg.Cloud.RetryAttempts)
	}
}

func TestParse_InvalidLogLevel(t *testing.T) {
	_, err := Parse([]byte("logging:\n  level: verbose\n"))
	if err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	os.Setenv("SECURESEND_TEST_ENDPOINT", "wss://relay.from-env.example.com")
	defer os.Unsetenv("SECURESEND_TEST_ENDPOINT")

	yamlConfig := `
rendezvous:
  endpoints:
    - "${SECURESEND_TEST_ENDPOINT}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Rendezvous.Endpoints[0] != "wss://relay.from-env.example.com" {
		t.Errorf("Rendezvous.Endpoints[0] = %s, want expanded env var", cfg.Rendezvous.Endpoints[0])
	}
}

func TestParse_EnvVarDefaultFallback(t *testing.T) {
	os.Unsetenv("SECURESEND_TEST_UNSET")
	cfg, err := Parse([]byte("rendezvous:\n  endpoints:\n    - \"${SECURESEND_TEST_UNSET:-wss://fallback.example.com}\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Rendezvous.Endpoints[0] != "wss://fallback.example.com" {
		t.Errorf("Rendezvous.Endpoints[0] = %s, want fallback value", cfg.Rendezvous.Endpoints[0])
	}
}

func TestValidate_RetryDelayOrdering(t *testing.T) {
	cfg := Default()
	cfg.Cloud.RetryMinDelay = 10 * time.Second
	cfg.Cloud.RetryMaxDelay = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when retry_max_delay < retry_min_delay")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Error("expected error loading a nonexistent file")
	}
}
