package observe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/testutil"
)

type touchRecorder struct {
	mu      sync.Mutex
	touches [][]observe.RawCaption
}

func (r *touchRecorder) record(visible []observe.RawCaption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touches = append(r.touches, visible)
}

func (r *touchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touches)
}

func (r *touchRecorder) last() []observe.RawCaption {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.touches) == 0 {
		return nil
	}
	return r.touches[len(r.touches)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcherEmitsTouchOnChange(t *testing.T) {
	src := &testutil.FakeSource{CaptionsOn: true}
	src.SetVisible([]observe.RawCaption{
		{ElementID: "c1", Speaker: "Alice", Text: "Hello"},
	})

	rec := &touchRecorder{}
	w := observe.NewWatcher(src, 10*time.Millisecond, rec.record)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })

	src.SetVisible([]observe.RawCaption{
		{ElementID: "c1", Speaker: "Alice", Text: "Hello world"},
	})
	waitFor(t, time.Second, func() bool { return rec.count() == 2 })

	got := rec.last()
	if len(got) != 1 || got[0].Text != "Hello world" {
		t.Errorf("last touch = %+v, want updated caption", got)
	}
}

func TestWatcherSuppressesUnchangedPolls(t *testing.T) {
	src := &testutil.FakeSource{CaptionsOn: true}
	src.SetVisible([]observe.RawCaption{
		{ElementID: "c1", Speaker: "Alice", Text: "Hello"},
	})

	rec := &touchRecorder{}
	w := observe.NewWatcher(src, 5*time.Millisecond, rec.record)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Errorf("touch count after identical polls = %d, want 1", got)
	}
}

func TestWatcherNoTouchWhileCaptionsOff(t *testing.T) {
	src := &testutil.FakeSource{}

	rec := &touchRecorder{}
	w := observe.NewWatcher(src, 5*time.Millisecond, rec.record)
	w.Start(context.Background())
	defer w.Stop()

	time.Sleep(40 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("touch count with captions off = %d, want 0", got)
	}

	src.SetVisible([]observe.RawCaption{
		{ElementID: "c1", Speaker: "Alice", Text: "Back"},
	})
	src.SetCaptionsOn(true)
	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
}

func TestWatcherStopIsSynchronous(t *testing.T) {
	src := &testutil.FakeSource{CaptionsOn: true}
	src.SetVisible([]observe.RawCaption{{ElementID: "c1", Speaker: "A", Text: "x"}})

	rec := &touchRecorder{}
	w := observe.NewWatcher(src, 5*time.Millisecond, rec.record)
	w.Start(context.Background())
	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })

	w.Stop()
	before := rec.count()

	src.SetVisible([]observe.RawCaption{{ElementID: "c2", Speaker: "A", Text: "y"}})
	time.Sleep(40 * time.Millisecond)

	if got := rec.count(); got != before {
		t.Errorf("touches after Stop = %d, want %d", got, before)
	}
}

func TestAutoEnableRetriesThenSucceeds(t *testing.T) {
	src := &testutil.FakeSource{EnableFailures: 2}
	src.SetVisible([]observe.RawCaption{{ElementID: "c1", Speaker: "A", Text: "hi"}})

	ok := observe.AutoEnable(context.Background(), src, 3, time.Millisecond)
	if !ok {
		t.Fatal("AutoEnable = false, want success on third attempt")
	}
	if src.EnableCalls != 3 {
		t.Errorf("EnableCalls = %d, want 3", src.EnableCalls)
	}
}

func TestAutoEnableGivesUpAfterAttempts(t *testing.T) {
	src := &testutil.FakeSource{EnableFailures: 10}

	ok := observe.AutoEnable(context.Background(), src, 3, time.Millisecond)
	if ok {
		t.Fatal("AutoEnable = true, want failure after exhausting attempts")
	}
	if src.EnableCalls != 3 {
		t.Errorf("EnableCalls = %d, want 3", src.EnableCalls)
	}
}
