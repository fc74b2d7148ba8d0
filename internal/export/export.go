// Package export renders a finalized transcript snapshot into
// downloadable text formats.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// ErrEmptyTranscript is a user-facing condition, not a crash: export was
// requested before anything was captured.
var ErrEmptyTranscript = errors.New("transcript is empty, nothing to export")

// Format names accepted by Render.
const (
	FormatTxt      = "txt"
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// Request carries everything a renderer needs. Renderers are pure: same
// request, same output.
type Request struct {
	Title           string
	StartedAt       time.Time
	Entries         []transcript.Entry
	Report          *transcript.AttendeeReport
	TimestampFormat string
}

// Render produces the transcript in the named format.
func Render(format string, req Request) (string, error) {
	if len(req.Entries) == 0 {
		return "", ErrEmptyTranscript
	}
	if req.TimestampFormat == "" {
		req.TimestampFormat = "2006-01-02 15:04:05"
	}

	switch format {
	case FormatTxt:
		return renderTxt(req), nil
	case FormatMarkdown:
		return renderMarkdown(req), nil
	case FormatJSON:
		return renderJSON(req)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

func renderTxt(req Request) string {
	var b strings.Builder

	if req.Report != nil && req.Report.Total > 0 {
		b.WriteString("=== MEETING ATTENDEES ===\n")
		fmt.Fprintf(&b, "Total Attendees: %d\n", req.Report.Total)
		fmt.Fprintf(&b, "Meeting Start: %s\n", req.Report.MeetingStart.Format(req.TimestampFormat))
		b.WriteString("\nAttendee List:\n")
		for _, name := range req.Report.Names {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n=== TRANSCRIPT ===\n")
	}

	for i, e := range req.Entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", e.CommittedAt.Format(req.TimestampFormat), e.Speaker, e.Text)
	}
	return b.String()
}

// renderMarkdown groups consecutive lines by the same speaker under one
// heading.
func renderMarkdown(req Request) string {
	var b strings.Builder

	if req.Report != nil && req.Report.Total > 0 {
		b.WriteString("# Meeting Attendees\n\n")
		fmt.Fprintf(&b, "**Total Attendees:** %d\n\n", req.Report.Total)
		fmt.Fprintf(&b, "**Meeting Start:** %s\n\n", req.Report.MeetingStart.Format(req.TimestampFormat))
		b.WriteString("## Attendee List\n\n")
		for _, name := range req.Report.Names {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n---\n\n# Transcript\n\n")
	}

	lastSpeaker := ""
	for _, e := range req.Entries {
		if e.Speaker != lastSpeaker {
			lastSpeaker = e.Speaker
			fmt.Fprintf(&b, "\n**%s** (%s):\n> %s\n", e.Speaker, e.CommittedAt.Format(req.TimestampFormat), e.Text)
			continue
		}
		fmt.Fprintf(&b, "> %s\n", e.Text)
	}
	return strings.TrimSpace(b.String())
}

func renderJSON(req Request) (string, error) {
	payload := struct {
		Title      string                     `json:"title"`
		StartedAt  time.Time                  `json:"started_at"`
		Transcript []transcript.Entry         `json:"transcript"`
		Attendees  *transcript.AttendeeReport `json:"attendees,omitempty"`
	}{
		Title:      req.Title,
		StartedAt:  req.StartedAt,
		Transcript: req.Entries,
		Attendees:  req.Report,
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding transcript: %w", err)
	}
	return string(out), nil
}

var (
	forbiddenFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	repeatedUnderscores    = regexp.MustCompile(`__+`)
)

// Filename expands a pattern with {date}, {title} and {format}
// placeholders and appends the format extension. Characters forbidden in
// filenames are replaced.
func Filename(pattern, title, format string, at time.Time) string {
	if pattern == "" {
		pattern = "{date}_{title}_{format}"
	}
	name := strings.NewReplacer(
		"{date}", at.Format("2006-01-02"),
		"{title}", title,
		"{format}", format,
	).Replace(pattern)

	name = forbiddenFilenameChars.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.TrimRight(name, "_")

	if !strings.HasSuffix(name, "."+format) {
		name += "." + format
	}
	return name
}
