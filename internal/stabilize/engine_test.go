package stabilize_test

import (
	"sync"
	"testing"
	"time"

	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/stabilize"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

type deltaSink struct {
	mu     sync.Mutex
	deltas []transcript.Delta
}

func (s *deltaSink) publish(d transcript.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
}

func (s *deltaSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deltas)
}

func caption(id, speaker, text string) observe.RawCaption {
	return observe.RawCaption{ElementID: id, Speaker: speaker, Text: text}
}

func captions(n int, lastText string) []observe.RawCaption {
	out := make([]observe.RawCaption, n)
	for i := 0; i < n-1; i++ {
		out[i] = caption(fmtID(i), "Alice", "line "+fmtID(i)+".")
	}
	out[n-1] = caption(fmtID(n-1), "Alice", lastText)
	return out
}

func fmtID(i int) string {
	return string(rune('a' + i))
}

func TestShortSetNotCommittedBeforeSilence(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, time.Hour, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch(captions(5, "still being revised"))

	if got := store.Len(); got != 0 {
		t.Errorf("committed %d entries before silence, want 0", got)
	}
}

func TestStablePrefixCommitsImmediately(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, time.Hour, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch(captions(8, "trailing"))

	if got := store.Len(); got != 3 {
		t.Fatalf("committed %d entries, want 3 (all but last 5)", got)
	}
	if got := sink.count(); got != 3 {
		t.Errorf("published %d deltas, want 3", got)
	}
	for _, d := range sink.deltas {
		if d.Type != transcript.DeltaNew {
			t.Errorf("delta type = %v, want DeltaNew", d.Type)
		}
	}
}

func TestSilenceCommitsTailWithTerminalPunctuation(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch(captions(3, "We are done here."))

	waitForLen(t, store, 3)
}

func TestSilenceHoldsBackUnpunctuatedTail(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch(captions(3, "and then we"))

	waitForLen(t, store, 2)
	time.Sleep(60 * time.Millisecond)
	if got := store.Len(); got != 2 {
		t.Errorf("committed %d entries, want 2 with unpunctuated tail held", got)
	}
}

func TestRevisionBeforeSilenceYieldsOneFinalEntry(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch([]observe.RawCaption{caption("c1", "Alice", "Hello wor")})
	e.Touch([]observe.RawCaption{caption("c1", "Alice", "Hello world.")})

	waitForLen(t, store, 1)

	entries := store.Snapshot()
	if entries[0].Text != "Hello world." {
		t.Errorf("entry text = %q, want final revision only", entries[0].Text)
	}
}

func TestIdenticalTouchesCommitOnce(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	set := []observe.RawCaption{caption("c1", "Alice", "Same thing.")}
	e.Touch(set)
	time.Sleep(2 * time.Millisecond)
	e.Touch(set)

	waitForLen(t, store, 1)
	time.Sleep(60 * time.Millisecond)

	if got := store.Len(); got != 1 {
		t.Errorf("entries = %d, want 1 for identical touches", got)
	}
	if got := sink.count(); got != 1 {
		t.Errorf("deltas = %d, want 1", got)
	}
}

func TestSilenceCommitsWholeSetExactlyOnce(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	e.Touch(captions(8, "That wraps it up."))

	waitForLen(t, store, 8)
	time.Sleep(60 * time.Millisecond)

	if got := store.Len(); got != 8 {
		t.Errorf("entries = %d, want all 8 committed exactly once", got)
	}
	if got := sink.count(); got != 8 {
		t.Errorf("deltas = %d, want 8", got)
	}
}

func TestRecreatedElementWithoutIDDeduped(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, 20*time.Millisecond, sink.publish, stabilize.WithHorizon(5))
	defer e.Stop()

	// The same line re-announced from a fresh element with no stable id.
	e.Touch([]observe.RawCaption{caption("", "Alice", "One and only.")})
	waitForLen(t, store, 1)

	e.Touch([]observe.RawCaption{caption("", "Alice", "One and only.")})
	time.Sleep(60 * time.Millisecond)

	if got := store.Len(); got != 1 {
		t.Errorf("entries = %d, want 1 after re-created element", got)
	}
}

func TestFinalizeCommitsEverything(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, time.Hour, sink.publish, stabilize.WithHorizon(5))

	e.Touch(captions(4, "no punctuation here"))
	e.Finalize()

	if got := store.Len(); got != 4 {
		t.Errorf("entries after Finalize = %d, want 4", got)
	}
}

func TestRevisionOfCommittedEntryPublishesUpdate(t *testing.T) {
	store := transcript.NewStore()
	sink := &deltaSink{}
	e := stabilize.NewEngine(store, time.Hour, sink.publish, stabilize.WithHorizon(2))
	defer e.Stop()

	e.Touch([]observe.RawCaption{
		caption("c1", "Alice", "First pass"),
		caption("c2", "Alice", "mid"),
		caption("c3", "Alice", "tail"),
	})
	e.Touch([]observe.RawCaption{
		caption("c1", "Alice", "First pass, revised."),
		caption("c2", "Alice", "mid"),
		caption("c3", "Alice", "tail"),
	})

	if got := store.Len(); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	if got := store.Snapshot()[0].Text; got != "First pass, revised." {
		t.Errorf("text = %q, want in-place revision", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.deltas) != 2 || sink.deltas[1].Type != transcript.DeltaUpdate {
		t.Errorf("deltas = %+v, want new then update", sink.deltas)
	}
}

func waitForLen(t *testing.T, store *transcript.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("store reached %d entries, want %d", store.Len(), want)
}
