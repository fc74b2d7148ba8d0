// Package session supervises the capture lifecycle: it watches the
// meeting page for call and caption state, starts and stops the
// stabilization pipeline, tracks attendees, keeps a rolling backup, and
// persists the finished transcript when the call ends.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Zerg00s/captions-relay/internal/debounce"
	"github.com/Zerg00s/captions-relay/internal/observe"
	"github.com/Zerg00s/captions-relay/internal/stabilize"
	"github.com/Zerg00s/captions-relay/internal/store"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

type State int

const (
	StateIdle State = iota
	StateInCallCaptionsOff
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInCallCaptionsOff:
		return "in_call_captions_off"
	case StateCapturing:
		return "capturing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SettingsSource is consulted at decision points, never cached.
type SettingsSource interface {
	AutoEnableCaptions(ctx context.Context) bool
	AutoSaveOnEnd(ctx context.Context) bool
	TrackCaptions(ctx context.Context) bool
	TrackAttendees(ctx context.Context) bool
}

// Notifier carries lifecycle announcements to other contexts.
type Notifier interface {
	PublishMeetingEnded()
	PublishSessionSaved(sessionID string)
}

type Config struct {
	CheckInterval       time.Duration // call/caption state poll
	TransitionDelay     time.Duration // debounce before a state change applies
	WatchInterval       time.Duration // caption set poll while capturing
	BackupInterval      time.Duration
	AttendeeInterval    time.Duration
	SilenceDelay        time.Duration
	StableHorizon       int
	AutoEnableAttempts  int
	AutoEnableBaseDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:       time.Second,
		TransitionDelay:     1200 * time.Millisecond,
		WatchInterval:       300 * time.Millisecond,
		BackupInterval:      30 * time.Second,
		AttendeeInterval:    time.Minute,
		SilenceDelay:        5 * time.Second,
		StableHorizon:       stabilize.DefaultHorizon,
		AutoEnableAttempts:  3,
		AutoEnableBaseDelay: 2 * time.Second,
	}
}

// Machine is the session state machine. All transitions are debounced so
// transient page churn cannot flap capture on and off.
type Machine struct {
	cfg        Config
	source     observe.Source
	transcript *transcript.Store
	sessions   *store.SessionStore
	settings   SettingsSource
	publish    func(transcript.Delta)
	notify     Notifier

	transition *debounce.Debouncer

	mu           sync.Mutex
	state        State
	pending      State
	engine       *stabilize.Engine
	watcher      *observe.Watcher
	tracker      *Tracker
	meetingTitle string
	meetingStart time.Time
	needsReset   bool
	savedKeys    map[string]bool

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMachine(cfg Config, src observe.Source, ts *transcript.Store, sessions *store.SessionStore, settings SettingsSource, publish func(transcript.Delta), notify Notifier) *Machine {
	m := &Machine{
		cfg:        cfg,
		source:     src,
		transcript: ts,
		sessions:   sessions,
		settings:   settings,
		publish:    publish,
		notify:     notify,
		state:      StateIdle,
		pending:    StateIdle,
		savedKeys:  make(map[string]bool),
	}
	m.transition = debounce.New(cfg.TransitionDelay, m.applyPending)
	return m
}

// Start rehydrates any crash backup and begins supervising.
func (m *Machine) Start(ctx context.Context) {
	m.rehydrate(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(runCtx)
}

// Stop shuts supervision down. Pending stabilization work is flushed so
// nothing visible at stop time is lost, and a final backup is written.
func (m *Machine) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.transition.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCaptureLocked(true)
	if m.transcript.Len() > 0 {
		m.backupLocked(ctx)
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Streaming reports whether captions are actively being captured,
// paired with the committed entry count. This is the viewer handshake.
func (m *Machine) Streaming() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateCapturing, m.transcript.Len()
}

// AttendeeReport snapshots the current attendee tracker, or nil when no
// meeting has been observed.
func (m *Machine) AttendeeReport() *transcript.AttendeeReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracker == nil {
		return nil
	}
	return m.tracker.Report()
}

// MeetingTitle returns the title captured when the call began.
func (m *Machine) MeetingTitle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetingTitle
}

func (m *Machine) loop(ctx context.Context) {
	defer close(m.done)

	check := time.NewTicker(m.cfg.CheckInterval)
	defer check.Stop()
	backup := time.NewTicker(m.cfg.BackupInterval)
	defer backup.Stop()
	attendees := time.NewTicker(m.cfg.AttendeeInterval)
	defer attendees.Stop()

	for {
		select {
		case <-check.C:
			m.checkState(ctx)
		case <-backup.C:
			if m.State() == StateCapturing {
				m.mu.Lock()
				m.backupLocked(ctx)
				m.mu.Unlock()
			}
		case <-attendees.C:
			if m.State() != StateIdle {
				m.updateAttendees(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// checkState samples the two lifecycle booleans and proposes a target
// state. The proposal only applies after TransitionDelay of stability.
func (m *Machine) checkState(ctx context.Context) {
	inCall, err := m.source.InMeeting(ctx)
	if err != nil {
		slog.Warn("call state check failed", "error", err)
		return
	}

	target := StateIdle
	if inCall {
		target = StateInCallCaptionsOff
		if m.settings == nil || m.settings.TrackCaptions(ctx) {
			if _, ok, err := m.source.VisibleCaptions(ctx); err == nil && ok {
				target = StateCapturing
			}
		}
	}
	m.propose(target)
}

func (m *Machine) propose(target State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target == m.state {
		m.pending = target
		return
	}
	if target != m.pending {
		m.pending = target
		m.transition.Trigger()
	}
}

func (m *Machine) applyPending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.pending
	if target == m.state {
		return
	}
	from := m.state
	slog.Info("session state change", "from", from.String(), "to", target.String())

	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	// Entering a call from idle starts a fresh meeting; per-meeting state
	// from the previous call is only discarded now, so it stayed
	// available for export after the call ended.
	if from == StateIdle && target != StateIdle {
		m.beginMeetingLocked(ctx)
	}

	switch target {
	case StateCapturing:
		m.startCaptureLocked(ctx)
	case StateInCallCaptionsOff:
		m.stopCaptureLocked(false)
		if from == StateIdle {
			m.maybeAutoEnable(ctx)
		}
	case StateIdle:
		m.stopCaptureLocked(true)
		m.endMeetingLocked(ctx)
	}
	m.state = target
}

func (m *Machine) beginMeetingLocked(ctx context.Context) {
	if m.needsReset {
		m.transcript.Reset()
		m.needsReset = false
	}
	m.meetingStart = time.Now()
	if title, err := m.source.MeetingTitle(ctx); err == nil && title != "" {
		m.meetingTitle = title
	} else {
		m.meetingTitle = "Meeting " + m.meetingStart.Format("2006-01-02 15:04")
	}
	m.tracker = NewTracker(m.meetingStart)
}

func (m *Machine) startCaptureLocked(ctx context.Context) {
	if m.engine != nil {
		return
	}
	m.engine = stabilize.NewEngine(m.transcript, m.cfg.SilenceDelay, m.publish,
		stabilize.WithHorizon(m.cfg.StableHorizon))
	m.watcher = observe.NewWatcher(m.source, m.cfg.WatchInterval, m.engine.Touch)
	m.watcher.Start(ctx)
}

// stopCaptureLocked disconnects observation. finalize commits everything
// still visible; otherwise pending work is dropped and the committed
// transcript is simply preserved.
func (m *Machine) stopCaptureLocked(finalize bool) {
	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
	if m.engine != nil {
		if finalize {
			m.engine.Finalize()
		} else {
			m.engine.Stop()
		}
		m.engine = nil
	}
}

func (m *Machine) endMeetingLocked(ctx context.Context) {
	m.needsReset = true
	if m.notify != nil {
		m.notify.PublishMeetingEnded()
	}
	if m.transcript.Len() == 0 {
		return
	}
	if m.settings != nil && !m.settings.AutoSaveOnEnd(ctx) {
		return
	}

	// The transition can fire more than once for one meeting; the
	// title+start key makes the save idempotent.
	idemKey := fmt.Sprintf("%s|%d", m.meetingTitle, m.meetingStart.UnixMilli())
	if m.savedKeys[idemKey] {
		return
	}
	m.savedKeys[idemKey] = true

	var report *transcript.AttendeeReport
	if m.tracker != nil && !m.tracker.Empty() {
		report = m.tracker.Report()
	}

	id, err := m.sessions.SaveSession(ctx, m.meetingTitle, m.transcript.Snapshot(), report)
	if err != nil {
		// Roll the key back so a later transition can retry the save.
		delete(m.savedKeys, idemKey)
		slog.Error("session auto-save failed", "title", m.meetingTitle, "error", err)
		return
	}
	slog.Info("session saved", "session_id", id, "captions", m.transcript.Len())

	if err := m.sessions.DeleteBackup(ctx); err != nil {
		slog.Warn("backup cleanup failed", "error", err)
	}
	if m.notify != nil {
		m.notify.PublishSessionSaved(id)
	}
}

func (m *Machine) maybeAutoEnable(ctx context.Context) {
	if m.settings == nil || !m.settings.AutoEnableCaptions(ctx) {
		return
	}
	go observe.AutoEnable(ctx, m.source, m.cfg.AutoEnableAttempts, m.cfg.AutoEnableBaseDelay)
}

func (m *Machine) backupLocked(ctx context.Context) {
	if m.transcript.Len() == 0 {
		return
	}
	var report *transcript.AttendeeReport
	if m.tracker != nil && !m.tracker.Empty() {
		report = m.tracker.Report()
	}
	if err := m.sessions.SaveBackup(ctx, m.meetingTitle, m.meetingStart, m.transcript.Snapshot(), report, m.transcript.Aliases()); err != nil {
		slog.Warn("periodic backup failed", "error", err)
	}
}

func (m *Machine) updateAttendees(ctx context.Context) {
	if m.settings != nil && !m.settings.TrackAttendees(ctx) {
		return
	}

	m.mu.Lock()
	tracker := m.tracker
	m.mu.Unlock()
	if tracker == nil {
		return
	}

	now := time.Now()
	entries, ok, err := m.source.Roster(ctx)
	if err != nil {
		slog.Warn("roster scan failed", "error", err)
		return
	}
	if ok {
		tracker.ObserveRoster(entries, now)
		return
	}
	// Roster panel closed: at minimum, everyone who spoke was here.
	tracker.ObserveSpeakers(m.transcript.Speakers(), now)
}

// rehydrate restores the live transcript from a crash backup. The host
// may tear this process down mid-meeting and respawn it; durable state
// wins over process lifetime.
func (m *Machine) rehydrate(ctx context.Context) {
	backup, entries, err := m.sessions.LoadBackup(ctx)
	if err != nil {
		slog.Warn("backup rehydration failed", "error", err)
		return
	}
	if backup == nil || len(entries) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript.Restore(entries, backup.Aliases)
	m.meetingTitle = backup.Title
	m.meetingStart = backup.StartedAt
	m.tracker = NewTracker(backup.StartedAt)
	slog.Info("transcript rehydrated from backup",
		"title", backup.Title, "captions", len(entries))
}
