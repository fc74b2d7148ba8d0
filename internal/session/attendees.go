package session

import (
	"sync"
	"time"

	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// Tracker accumulates attendee history across roster scans. Records are
// never deleted while the session runs; leaving only stamps LeaveTime.
type Tracker struct {
	mu           sync.Mutex
	meetingStart time.Time
	lastUpdated  time.Time
	records      map[string]*transcript.AttendeeRecord
	order        []string
}

func NewTracker(meetingStart time.Time) *Tracker {
	return &Tracker{
		meetingStart: meetingStart,
		records:      make(map[string]*transcript.AttendeeRecord),
	}
}

// ObserveRoster applies one roster scan: new names join, names absent
// from the scan are stamped as left, returning names rejoin.
func (t *Tracker) ObserveRoster(entries []observe.RosterEntry, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUpdated = at

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name] = true
		t.sightLocked(e.Name, e.Role, at)
	}

	for name, rec := range t.records {
		if !present[name] && rec.LeaveTime == nil {
			left := at
			rec.LeaveTime = &left
		}
	}
}

// ObserveSpeakers is the fallback when the roster panel is closed:
// anyone who spoke is at least known to have been present.
func (t *Tracker) ObserveSpeakers(speakers []string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUpdated = at
	for _, name := range speakers {
		t.sightLocked(name, "Speaker", at)
	}
}

func (t *Tracker) sightLocked(name, role string, at time.Time) {
	if name == "" {
		return
	}
	if rec, ok := t.records[name]; ok {
		rec.LeaveTime = nil
		if role != "" && role != "Speaker" {
			rec.Role = role
		}
		return
	}
	t.records[name] = &transcript.AttendeeRecord{
		Name:     name,
		Role:     role,
		JoinTime: at,
	}
	t.order = append(t.order, name)
}

// Report snapshots the tracker state.
func (t *Tracker) Report() *transcript.AttendeeReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := &transcript.AttendeeReport{
		MeetingStart: t.meetingStart,
		LastUpdated:  t.lastUpdated,
		Total:        len(t.order),
	}
	for _, name := range t.order {
		rec := t.records[name]
		report.Records = append(report.Records, *rec)
		report.Names = append(report.Names, name)
		if rec.LeaveTime == nil {
			report.CurrentCount++
		}
	}
	return report
}

// Empty reports whether any attendee was ever sighted.
func (t *Tracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order) == 0
}
