package testutil

import (
	"context"
	"sync"

	"github.com/Zerg00s/captions-relay/internal/observe"
)

// FakeSource is a scripted observe.Source. Tests set its state directly;
// every accessor returns the current values under lock.
type FakeSource struct {
	mu sync.Mutex

	Visible    []observe.RawCaption
	CaptionsOn bool
	ScanErr    error

	InCall  bool
	CallErr error

	RosterEntries []observe.RosterEntry
	RosterOpen    bool

	Title string

	EnableCalls    int
	EnableFailures int // fail this many EnableCaptions calls before succeeding
	EnableErr      error
}

func (f *FakeSource) VisibleCaptions(ctx context.Context) ([]observe.RawCaption, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanErr != nil {
		return nil, false, f.ScanErr
	}
	if !f.CaptionsOn {
		return nil, false, nil
	}
	out := make([]observe.RawCaption, len(f.Visible))
	copy(out, f.Visible)
	return out, true, nil
}

func (f *FakeSource) InMeeting(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.InCall, f.CallErr
}

func (f *FakeSource) Roster(ctx context.Context) ([]observe.RosterEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.RosterOpen {
		return nil, false, nil
	}
	out := make([]observe.RosterEntry, len(f.RosterEntries))
	copy(out, f.RosterEntries)
	return out, true, nil
}

func (f *FakeSource) MeetingTitle(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Title, nil
}

func (f *FakeSource) EnableCaptions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnableCalls++
	if f.EnableErr != nil {
		return f.EnableErr
	}
	if f.EnableCalls <= f.EnableFailures {
		return context.DeadlineExceeded
	}
	f.CaptionsOn = true
	return nil
}

// SetVisible replaces the visible caption set.
func (f *FakeSource) SetVisible(visible []observe.RawCaption) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Visible = visible
}

// SetInCall flips the call-state signal.
func (f *FakeSource) SetInCall(in bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InCall = in
}

// SetCaptionsOn flips caption availability.
func (f *FakeSource) SetCaptionsOn(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptionsOn = on
}
