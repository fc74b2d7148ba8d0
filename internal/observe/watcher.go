package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TouchFunc receives the full visible caption set whenever it changes.
type TouchFunc func(visible []RawCaption)

// Watcher polls the source and emits a touch whenever the visible caption
// set differs from the previous poll. It owns no state beyond the
// change-detection snapshot hash.
type Watcher struct {
	source   Source
	onTouch  TouchFunc
	interval time.Duration

	mu       sync.Mutex
	lastHash uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewWatcher(src Source, interval time.Duration, fn TouchFunc) *Watcher {
	return &Watcher{
		source:   src,
		onTouch:  fn,
		interval: interval,
	}
}

// Start begins polling. Idempotent while running.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.lastHash = 0

	go w.loop(ctx)
}

// Stop disconnects observation synchronously: when it returns, no further
// touches will be emitted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Initial scan before the first tick.
	w.poll(ctx)

	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	visible, ok, err := w.source.VisibleCaptions(ctx)
	if err != nil {
		slog.Warn("caption scan failed", "error", err)
		return
	}
	if !ok {
		// Captions not enabled: expected, not an error. Committed entries
		// are untouched; the snapshot resets so re-enabling re-emits.
		w.mu.Lock()
		w.lastHash = 0
		w.mu.Unlock()
		return
	}

	h := hashVisible(visible)

	w.mu.Lock()
	changed := h != w.lastHash
	w.lastHash = h
	w.mu.Unlock()

	if changed {
		w.onTouch(visible)
	}
}

func hashVisible(visible []RawCaption) uint64 {
	d := xxhash.New()
	for _, c := range visible {
		d.WriteString(c.ElementID)
		d.Write([]byte{0})
		d.WriteString(c.Speaker)
		d.Write([]byte{0})
		d.WriteString(c.Text)
		d.Write([]byte{0x1e})
	}
	// Distinguish the empty set from "one empty caption".
	if len(visible) == 0 {
		return 1
	}
	return d.Sum64()
}
