// Package viewer maintains a read-side copy of the live transcript,
// built from broadcast deltas, with heartbeat-based stream-loss
// detection and offline loading of persisted sessions.
package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Zerg00s/captions-relay/internal/broadcast"
	"github.com/Zerg00s/captions-relay/internal/store"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

type Status int

const (
	StatusConnecting Status = iota
	StatusLive
	StatusNotStreaming
	StatusEnded
	StatusOffline // viewing a persisted session
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusNotStreaming:
		return "not_streaming"
	case StatusEnded:
		return "ended"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ProbeFunc asks the capture side whether it is streaming. Used for the
// attach handshake and the single reconnect attempt after a timeout.
type ProbeFunc func() (broadcast.LiveStatus, error)

type Config struct {
	HeartbeatInterval time.Duration // how often staleness is checked
	Timeout           time.Duration // silence after which the stream is presumed dead
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		Timeout:           30 * time.Second,
	}
}

// Reconciler applies deltas to an ordered local list and watches for
// stream loss. One Reconciler per attached viewer.
type Reconciler struct {
	cfg   Config
	probe ProbeFunc

	mu           sync.Mutex
	entries      []transcript.Entry
	byID         map[string]int
	status       Status
	lastActivity time.Time
	probed       bool // the one reconnect attempt was spent

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(cfg Config, probe ProbeFunc) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		probe:  probe,
		byID:   make(map[string]int),
		status: StatusConnecting,
	}
}

// Attach performs the handshake and starts the heartbeat check.
func (r *Reconciler) Attach(ctx context.Context) {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()

	status, err := r.probe()
	r.mu.Lock()
	switch {
	case err != nil:
		// Capture side unreachable; deltas may still arrive later.
		r.status = StatusNotStreaming
	case status.Streaming:
		r.status = StatusLive
	default:
		r.status = StatusNotStreaming
	}
	r.mu.Unlock()

	hbCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.heartbeatLoop(hbCtx)
}

// Detach stops the heartbeat check.
func (r *Reconciler) Detach() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
}

// Apply incorporates one delta: append for new, in-place text replace
// for update, matched by entry id. Any delta counts as a liveness sign.
func (r *Reconciler) Apply(d transcript.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = time.Now()
	if r.status == StatusNotStreaming || r.status == StatusEnded {
		r.status = StatusLive
		r.probed = false
	}

	if i, ok := r.byID[d.Entry.ID]; ok {
		r.entries[i] = d.Entry
		return
	}
	r.byID[d.Entry.ID] = len(r.entries)
	r.entries = append(r.entries, d.Entry)
}

// MarkEnded records the capture side's explicit end-of-stream signal.
// No reconnect is attempted after it; a later delta still revives the
// view if the capture side resumes.
func (r *Reconciler) MarkEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusEnded
	r.probed = true
}

// Snapshot returns a copy of the reconciled transcript.
func (r *Reconciler) Snapshot() []transcript.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transcript.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// LoadSession replaces the live view with a persisted session for
// offline reading. The heartbeat no longer applies.
func (r *Reconciler) LoadSession(ctx context.Context, sessions *store.SessionStore, sessionID string) error {
	session, err := sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = session.Entries
	r.byID = make(map[string]int, len(session.Entries))
	for i, e := range session.Entries {
		r.byID[e.ID] = i
	}
	r.status = StatusOffline
	return nil
}

func (r *Reconciler) heartbeatLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkStale()
		case <-ctx.Done():
			return
		}
	}
}

// checkStale compares time since the last delta against the timeout. On
// timeout the stream is marked ended and one reconnect probe is spent;
// after that the viewer stops expecting updates.
func (r *Reconciler) checkStale() {
	r.mu.Lock()
	if r.status != StatusLive || time.Since(r.lastActivity) < r.cfg.Timeout {
		r.mu.Unlock()
		return
	}
	alreadyProbed := r.probed
	r.probed = true
	r.status = StatusEnded
	r.mu.Unlock()

	if alreadyProbed {
		return
	}

	status, err := r.probe()
	if err != nil || !status.Streaming {
		slog.Info("stream presumed ended", "reconnect_ok", false)
		return
	}

	r.mu.Lock()
	r.status = StatusLive
	r.lastActivity = time.Now()
	r.mu.Unlock()
	slog.Info("stream reconnected after stale period")
}
