package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var relayEnvVars = []string{
	"RELAY_PORT", "NATS_URL", "DATABASE_URL", "MEETING_URL", "LOG_LEVEL",
	"STABLE_HORIZON", "SILENCE_DELAY_MS", "WATCH_INTERVAL_MS",
	"CHECK_INTERVAL_MS", "TRANSITION_DELAY_MS", "CHUNK_BYTES", "QUOTA_BYTES",
	"MAX_SESSIONS", "BACKUP_INTERVAL_MS", "ATTENDEE_INTERVAL_MS",
	"HEARTBEAT_INTERVAL_MS", "HEARTBEAT_TIMEOUT_MS", "RELAY_CONFIG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range relayEnvVars {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8760 {
		t.Errorf("expected port 8760, got %d", cfg.Port)
	}
	if cfg.StableHorizon != 5 {
		t.Errorf("expected horizon 5, got %d", cfg.StableHorizon)
	}
	if cfg.SilenceDelay != 5*time.Second {
		t.Errorf("expected 5s silence delay, got %v", cfg.SilenceDelay)
	}
	if cfg.ChunkBytes != 7000 {
		t.Errorf("expected chunk cap 7000, got %d", cfg.ChunkBytes)
	}
	if cfg.QuotaBytes != 8*1024*1024 {
		t.Errorf("expected 8MB quota, got %d", cfg.QuotaBytes)
	}
	if cfg.MaxSessions != 10 {
		t.Errorf("expected 10 session cap, got %d", cfg.MaxSessions)
	}
	if cfg.BackupInterval != 30*time.Second {
		t.Errorf("expected 30s backup interval, got %v", cfg.BackupInterval)
	}
	if cfg.HeartbeatTimeout != 30*time.Second {
		t.Errorf("expected 30s heartbeat timeout, got %v", cfg.HeartbeatTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	os.Setenv("RELAY_PORT", "9090")
	os.Setenv("NATS_URL", "nats://localhost:14222")
	os.Setenv("SILENCE_DELAY_MS", "2500")
	os.Setenv("MAX_SESSIONS", "5")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.NatsURL != "nats://localhost:14222" {
		t.Errorf("expected custom nats url, got %s", cfg.NatsURL)
	}
	if cfg.SilenceDelay != 2500*time.Millisecond {
		t.Errorf("expected 2.5s silence delay, got %v", cfg.SilenceDelay)
	}
	if cfg.MaxSessions != 5 {
		t.Errorf("expected 5 session cap, got %d", cfg.MaxSessions)
	}
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	os.Setenv("RELAY_PORT", "notanumber")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8760 {
		t.Errorf("expected default port on invalid value, got %d", cfg.Port)
	}
}

func TestLoad_YAMLOverridesEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("RELAY_PORT", "9000")

	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "port: 9100\nsilence_delay_ms: 4000\nmeeting_url: https://example.test/meet\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	os.Setenv("RELAY_CONFIG_FILE", path)
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("file should override env: port = %d, want 9100", cfg.Port)
	}
	if cfg.SilenceDelay != 4*time.Second {
		t.Errorf("silence delay = %v, want 4s", cfg.SilenceDelay)
	}
	if cfg.MeetingURL != "https://example.test/meet" {
		t.Errorf("meeting url = %q", cfg.MeetingURL)
	}
	// Values absent from the file keep their env/default values.
	if cfg.MaxSessions != 10 {
		t.Errorf("max sessions = %d, want default 10", cfg.MaxSessions)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	os.Setenv("RELAY_CONFIG_FILE", "/does/not/exist.yaml")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
