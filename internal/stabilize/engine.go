// Package stabilize turns the mutating visible caption set into committed
// transcript entries. The page rewrites its trailing captions as speech
// recognition revises them; only text that has scrolled past the revision
// horizon, or sat unchanged through a silence window, is committed.
package stabilize

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zerg00s/captions-relay/internal/debounce"
	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// DefaultHorizon is how many trailing visible elements are considered
// still under revision.
const DefaultHorizon = 5

// DefaultTerminalRunes are the sentence-ending characters that let the
// very last caption commit on silence.
const DefaultTerminalRunes = ".!?…。！？"

// Engine tracks the visible caption set and commits stabilized entries to
// the transcript store, publishing a delta for each commit.
type Engine struct {
	store    *transcript.Store
	publish  func(transcript.Delta)
	horizon  int
	terminal string
	now      func() time.Time

	mu      sync.Mutex
	visible []observe.RawCaption
	silence *debounce.Debouncer
}

type Option func(*Engine)

// WithHorizon overrides the number of trailing elements held back from
// stable-prefix commits.
func WithHorizon(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.horizon = k
		}
	}
}

// WithTerminalRunes overrides the characters treated as sentence-ending.
func WithTerminalRunes(runes string) Option {
	return func(e *Engine) {
		if runes != "" {
			e.terminal = runes
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *transcript.Store, silenceDelay time.Duration, publish func(transcript.Delta), opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		publish:  publish,
		horizon:  DefaultHorizon,
		terminal: DefaultTerminalRunes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.silence = debounce.New(silenceDelay, e.onSilence)
	return e
}

// Touch processes a changed visible caption set. Elements beyond the
// revision horizon commit immediately; the rest wait for silence. Every
// touch restarts the silence window.
func (e *Engine) Touch(visible []observe.RawCaption) {
	e.mu.Lock()
	e.visible = visible

	// Only commit the stable prefix when enough elements are visible to
	// know where the horizon is. A short set could still be revised
	// wholesale.
	if len(visible) > e.horizon {
		e.commitLocked(visible[:len(visible)-e.horizon])
	}
	e.mu.Unlock()

	e.silence.Trigger()
}

// onSilence fires when the visible set has not changed for the silence
// window. Everything but the final element is stable by then; the final
// element commits only if it reads as a finished sentence.
func (e *Engine) onSilence() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.visible) == 0 {
		return
	}
	e.commitLocked(e.visible[:len(e.visible)-1])

	last := e.visible[len(e.visible)-1]
	if e.endsTerminal(last.Text) {
		e.commitOneLocked(last)
	}
}

// Finalize commits every visible element regardless of punctuation and
// cancels the pending silence window. Called when capture ends.
func (e *Engine) Finalize() {
	e.silence.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.commitLocked(e.visible)
	e.visible = nil
}

// Stop cancels the silence timer without committing anything further.
func (e *Engine) Stop() {
	e.silence.Stop()
}

func (e *Engine) commitLocked(captions []observe.RawCaption) {
	for _, c := range captions {
		e.commitOneLocked(c)
	}
}

func (e *Engine) commitOneLocked(c observe.RawCaption) {
	if c.Text == "" || c.Speaker == "" {
		return
	}
	key, derived := captionKey(c)
	delta, ok := e.store.Upsert(key, c.Speaker, c.Text, e.now(), derived)
	if ok && e.publish != nil {
		e.publish(delta)
	}
}

func (e *Engine) endsTerminal(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)
	return strings.ContainsRune(e.terminal, r[len(r)-1])
}

// captionKey derives the identity of a caption element. Pages that stamp
// elements with an id give a stable key; otherwise the speaker and text
// form one, and the store applies its recent-duplicate scan to absorb
// re-renders that lose the id.
func captionKey(c observe.RawCaption) (key string, derived bool) {
	if c.ElementID != "" {
		return c.ElementID, false
	}
	return fmt.Sprintf("%s:%s", c.Speaker, c.Text), true
}
