// Package observe wraps the live meeting page. It re-resolves the caption
// root by selector on every read — never by cached reference — so the root
// disappearing and reappearing is tolerated, and an absent root is a
// normal condition rather than an error.
package observe

import "context"

// RawCaption is one currently visible caption line. Ephemeral: produced
// here, consumed by the stabilization engine, never persisted.
type RawCaption struct {
	ElementID string // stable identity when the page provides one
	Speaker   string
	Text      string
	Position  int // screen order, top to bottom
}

// RosterEntry is one participant row from the attendee panel.
type RosterEntry struct {
	Name string
	Role string
}

// Source is the observation contract against the meeting page. The
// concrete implementation is *PageSource (chromedp-backed); tests use
// testutil's FakeSource.
type Source interface {
	// VisibleCaptions resolves the caption root and reads the rendered
	// lines. ok is false when no root matches — captions not enabled.
	// Elements missing expected sub-fields are skipped, not errors.
	VisibleCaptions(ctx context.Context) (captions []RawCaption, ok bool, err error)

	// InMeeting reports whether a call is active (hang-up control present).
	InMeeting(ctx context.Context) (bool, error)

	// Roster reads the attendee panel. ok is false when the panel is not
	// open.
	Roster(ctx context.Context) (entries []RosterEntry, ok bool, err error)

	// MeetingTitle returns the page title for session naming.
	MeetingTitle(ctx context.Context) (string, error)

	// EnableCaptions performs one UI-automation attempt to turn captions
	// on. Callers wrap it in AutoEnable for bounded retry.
	EnableCaptions(ctx context.Context) error
}
