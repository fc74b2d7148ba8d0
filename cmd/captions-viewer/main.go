// Command captions-viewer follows a live caption stream from another
// process over NATS and prints it to stdout. It reconciles deltas into
// an ordered local transcript and watches the heartbeat for stream
// loss.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zerg00s/captions-relay/internal/broadcast"
	"github.com/Zerg00s/captions-relay/internal/config"
	"github.com/Zerg00s/captions-relay/internal/transcript"
	"github.com/Zerg00s/captions-relay/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("captions-viewer starting",
		"nats_url", cfg.NatsURL,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, err := broadcast.Connect(cfg.NatsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer relay.Close()

	rec := viewer.NewReconciler(viewer.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Timeout:           cfg.HeartbeatTimeout,
	}, func() (broadcast.LiveStatus, error) {
		return relay.RequestStatus(2 * time.Second)
	})
	rec.Attach(ctx)
	defer rec.Detach()
	slog.Info("attached to stream", "status", rec.Status())

	unsubDeltas, err := relay.SubscribeDeltas(func(d transcript.Delta) {
		rec.Apply(d)
		printDelta(d)
	})
	if err != nil {
		slog.Error("failed to subscribe to deltas", "error", err)
		os.Exit(1)
	}
	defer unsubDeltas()

	unsubEnded, err := relay.SubscribeMeetingEnded(func() {
		rec.MarkEnded()
		fmt.Println("--- meeting ended ---")
	})
	if err != nil {
		slog.Error("failed to subscribe to meeting end", "error", err)
		os.Exit(1)
	}
	defer unsubEnded()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig, "entries", len(rec.Snapshot()))
}

// printDelta renders one transcript change as a console line. Updates
// carry a marker so a reader can tell a rewrite from a new utterance.
func printDelta(d transcript.Delta) {
	marker := ""
	if d.Type == transcript.DeltaUpdate {
		marker = " *"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		d.Entry.CommittedAt.Format("15:04:05"), d.Entry.Speaker, d.Entry.Text, marker)
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

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
