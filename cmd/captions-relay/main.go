package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zerg00s/captions-relay/internal/api"
	"github.com/Zerg00s/captions-relay/internal/broadcast"
	"github.com/Zerg00s/captions-relay/internal/config"
	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/session"
	"github.com/Zerg00s/captions-relay/internal/settings"
	"github.com/Zerg00s/captions-relay/internal/store"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("captions-relay starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"meeting_url", cfg.MeetingURL,
		"silence_delay", cfg.SilenceDelay,
		"stable_horizon", cfg.StableHorizon,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect persistence.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	kv, err := store.NewPGKV(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer kv.Close()
	slog.Info("database connected")

	sessions := store.NewSessionStore(kv, store.Config{
		QuotaBytes:  cfg.QuotaBytes,
		MaxSessions: cfg.MaxSessions,
		ChunkBytes:  cfg.ChunkBytes,
	})
	prefs := settings.NewStore(kv)

	// Step 2: Connect the meeting page.
	if cfg.MeetingURL == "" {
		slog.Error("MEETING_URL is required")
		os.Exit(1)
	}
	source, err := observe.NewPageSource(ctx, cfg.MeetingURL, observe.DefaultSelectors())
	if err != nil {
		slog.Error("failed to open meeting page", "error", err)
		os.Exit(1)
	}
	defer source.Close()
	slog.Info("meeting page loaded", "url", cfg.MeetingURL)

	// Step 3: Broadcast fan-out, in-process and over NATS.
	bus := broadcast.New()
	relay, err := broadcast.Connect(cfg.NatsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer relay.Close()

	publish := func(d transcript.Delta) {
		bus.Publish(d)
		relay.PublishDelta(d)
	}

	// Step 4: Session supervisor.
	ts := transcript.NewStore()
	machine := session.NewMachine(session.Config{
		CheckInterval:       cfg.CheckInterval,
		TransitionDelay:     cfg.TransitionDelay,
		WatchInterval:       cfg.WatchInterval,
		BackupInterval:      cfg.BackupInterval,
		AttendeeInterval:    cfg.AttendeeInterval,
		SilenceDelay:        cfg.SilenceDelay,
		StableHorizon:       cfg.StableHorizon,
		AutoEnableAttempts:  cfg.AutoEnableAttempts,
		AutoEnableBaseDelay: cfg.AutoEnableBaseDelay,
	}, source, ts, sessions, prefs, publish, relay)
	machine.Start(ctx)

	// Answer viewer handshakes over NATS.
	if err := relay.ServeStatus(func() broadcast.LiveStatus {
		streaming, count := machine.Streaming()
		return broadcast.LiveStatus{Streaming: streaming, Count: count}
	}); err != nil {
		slog.Warn("status responder unavailable", "error", err)
	}

	// Step 5: HTTP API.
	srv := api.NewServer(ts, sessions, machine, prefs, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("captions-relay ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	machine.Stop(context.Background())
	cancel()
	slog.Info("captions-relay stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
