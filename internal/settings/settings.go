// Package settings exposes user preferences stored in the shared
// key-value backend. Values are read at each decision point rather than
// cached, so a change takes effect on the very next decision.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Zerg00s/captions-relay/internal/store"
)

const keyPrefix = "setting_"

// Setting names.
const (
	KeyAutoEnableCaptions = "auto_enable_captions"
	KeyAutoSaveOnEnd      = "auto_save_on_end"
	KeyTrackCaptions      = "track_captions"
	KeyTrackAttendees     = "track_attendees"
	KeyFilenamePattern    = "filename_pattern"
	KeyDefaultSaveFormat  = "default_save_format"
	KeyTimestampFormat    = "timestamp_format"
)

// Defaults applied when a setting was never written.
var defaults = map[string]string{
	KeyAutoEnableCaptions: "false",
	KeyAutoSaveOnEnd:      "true",
	KeyTrackCaptions:      "true",
	KeyTrackAttendees:     "true",
	KeyFilenamePattern:    "{date} - {title}.{format}",
	KeyDefaultSaveFormat:  "txt",
	KeyTimestampFormat:    "2006-01-02 15:04:05",
}

// Store reads and writes settings through a store.KV.
type Store struct {
	kv store.KV
}

func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// String returns the named setting, or its default when unset. A backend
// read failure also falls back to the default; preferences are not worth
// failing an operation over.
func (s *Store) String(ctx context.Context, name string) string {
	v, err := s.kv.Get(ctx, keyPrefix+name)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			slog.Warn("setting read failed", "setting", name, "error", err)
		}
		return defaults[name]
	}
	return string(v)
}

// Bool interprets the named setting as a boolean ("true"/"false").
func (s *Store) Bool(ctx context.Context, name string) bool {
	return s.String(ctx, name) == "true"
}

// Set writes a setting value.
func (s *Store) Set(ctx context.Context, name, value string) error {
	if _, known := defaults[name]; !known {
		return fmt.Errorf("unknown setting %q", name)
	}
	if err := s.kv.Set(ctx, keyPrefix+name, []byte(value)); err != nil {
		return fmt.Errorf("writing setting %q: %w", name, err)
	}
	return nil
}

// SetBool writes a boolean setting.
func (s *Store) SetBool(ctx context.Context, name string, value bool) error {
	v := "false"
	if value {
		v = "true"
	}
	return s.Set(ctx, name, v)
}

// All returns every setting with defaults applied.
func (s *Store) All(ctx context.Context) map[string]string {
	out := make(map[string]string, len(defaults))
	for name := range defaults {
		out[name] = s.String(ctx, name)
	}
	return out
}

// The session supervisor consults these at its decision points.

func (s *Store) AutoEnableCaptions(ctx context.Context) bool {
	return s.Bool(ctx, KeyAutoEnableCaptions)
}

func (s *Store) AutoSaveOnEnd(ctx context.Context) bool {
	return s.Bool(ctx, KeyAutoSaveOnEnd)
}

func (s *Store) TrackCaptions(ctx context.Context) bool {
	return s.Bool(ctx, KeyTrackCaptions)
}

func (s *Store) TrackAttendees(ctx context.Context) bool {
	return s.Bool(ctx, KeyTrackAttendees)
}
