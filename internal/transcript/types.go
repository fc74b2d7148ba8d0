package transcript

import "time"

// Entry is one transcript line. Text is always replaced whole on update,
// never appended to in place.
type Entry struct {
	ID              string    `json:"id"`
	Speaker         string    `json:"speaker"`
	OriginalSpeaker string    `json:"original_speaker"`
	Text            string    `json:"text"`
	CommittedAt     time.Time `json:"committed_at"`
}

// DeltaType distinguishes first commits from in-place revisions.
type DeltaType string

const (
	DeltaNew    DeltaType = "new"
	DeltaUpdate DeltaType = "update"
)

// Delta is the incremental notification describing a single entry change,
// broadcast to viewers.
type Delta struct {
	Type  DeltaType `json:"type"`
	Entry Entry     `json:"entry"`
}
