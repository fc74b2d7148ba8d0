package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int
	NatsURL     string
	DatabaseURL string
	MeetingURL  string
	LogLevel    string

	// Stabilization.
	StableHorizon   int
	SilenceDelay    time.Duration
	WatchInterval   time.Duration
	CheckInterval   time.Duration
	TransitionDelay time.Duration

	// Persistence.
	ChunkBytes  int
	QuotaBytes  int64
	MaxSessions int

	// Timers.
	BackupInterval    time.Duration
	AttendeeInterval  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Caption auto-enable.
	AutoEnableAttempts  int
	AutoEnableBaseDelay time.Duration
}

// Load reads configuration from the environment, then applies overrides
// from the YAML file named by RELAY_CONFIG_FILE when that is set.
func Load() (Config, error) {
	cfg := Config{
		Port:        envInt("RELAY_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		MeetingURL:  envStr("MEETING_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		StableHorizon:   envInt("STABLE_HORIZON", 5),
		SilenceDelay:    envMillis("SILENCE_DELAY_MS", 5000),
		WatchInterval:   envMillis("WATCH_INTERVAL_MS", 300),
		CheckInterval:   envMillis("CHECK_INTERVAL_MS", 1000),
		TransitionDelay: envMillis("TRANSITION_DELAY_MS", 1200),

		ChunkBytes:  envInt("CHUNK_BYTES", 7000),
		QuotaBytes:  int64(envInt("QUOTA_BYTES", 8*1024*1024)),
		MaxSessions: envInt("MAX_SESSIONS", 10),

		BackupInterval:    envMillis("BACKUP_INTERVAL_MS", 30000),
		AttendeeInterval:  envMillis("ATTENDEE_INTERVAL_MS", 60000),
		HeartbeatInterval: envMillis("HEARTBEAT_INTERVAL_MS", 5000),
		HeartbeatTimeout:  envMillis("HEARTBEAT_TIMEOUT_MS", 30000),

		AutoEnableAttempts:  envInt("AUTO_ENABLE_ATTEMPTS", 3),
		AutoEnableBaseDelay: envMillis("AUTO_ENABLE_BASE_DELAY_MS", 2000),
	}

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// fileConfig holds YAML overrides. Pointer fields distinguish "absent"
// from "zero".
type fileConfig struct {
	Port        *int    `yaml:"port"`
	NatsURL     *string `yaml:"nats_url"`
	DatabaseURL *string `yaml:"database_url"`
	MeetingURL  *string `yaml:"meeting_url"`
	LogLevel    *string `yaml:"log_level"`

	StableHorizon     *int   `yaml:"stable_horizon"`
	SilenceDelayMS    *int   `yaml:"silence_delay_ms"`
	WatchIntervalMS   *int   `yaml:"watch_interval_ms"`
	CheckIntervalMS   *int   `yaml:"check_interval_ms"`
	TransitionDelayMS *int   `yaml:"transition_delay_ms"`
	ChunkBytes        *int   `yaml:"chunk_bytes"`
	QuotaBytes        *int64 `yaml:"quota_bytes"`
	MaxSessions       *int   `yaml:"max_sessions"`
	BackupIntervalMS  *int   `yaml:"backup_interval_ms"`
	AttendeeIntervalM *int   `yaml:"attendee_interval_ms"`
	HeartbeatInterval *int   `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  *int   `yaml:"heartbeat_timeout_ms"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setInt(&cfg.Port, fc.Port)
	setStr(&cfg.NatsURL, fc.NatsURL)
	setStr(&cfg.DatabaseURL, fc.DatabaseURL)
	setStr(&cfg.MeetingURL, fc.MeetingURL)
	setStr(&cfg.LogLevel, fc.LogLevel)
	setInt(&cfg.StableHorizon, fc.StableHorizon)
	setDur(&cfg.SilenceDelay, fc.SilenceDelayMS)
	setDur(&cfg.WatchInterval, fc.WatchIntervalMS)
	setDur(&cfg.CheckInterval, fc.CheckIntervalMS)
	setDur(&cfg.TransitionDelay, fc.TransitionDelayMS)
	setInt(&cfg.ChunkBytes, fc.ChunkBytes)
	if fc.QuotaBytes != nil {
		cfg.QuotaBytes = *fc.QuotaBytes
	}
	setInt(&cfg.MaxSessions, fc.MaxSessions)
	setDur(&cfg.BackupInterval, fc.BackupIntervalMS)
	setDur(&cfg.AttendeeInterval, fc.AttendeeIntervalM)
	setDur(&cfg.HeartbeatInterval, fc.HeartbeatInterval)
	setDur(&cfg.HeartbeatTimeout, fc.HeartbeatTimeout)
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, ms *int) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
