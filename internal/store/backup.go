package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// Backup is the crash-recovery slot for the in-progress session. The
// coordination context can be torn down at any time, so the live
// transcript is snapshotted here periodically and rehydrated on cold
// start. One slot only; each save replaces the previous one.
type Backup struct {
	Title      string                     `json:"title"`
	StartedAt  time.Time                  `json:"started_at"`
	SavedAt    time.Time                  `json:"saved_at"`
	ChunkCount int                        `json:"chunk_count"`
	Report     *transcript.AttendeeReport `json:"attendee_report,omitempty"`
	Aliases    map[string]string          `json:"aliases,omitempty"`
}

// SaveBackup writes the live transcript into the backup slot, chunked the
// same way as persisted sessions to respect the per-key ceiling. Speaker
// aliases ride along in the meta record so a rehydrated session keeps
// renaming future commits.
func (s *SessionStore) SaveBackup(ctx context.Context, title string, startedAt time.Time, entries []transcript.Entry, report *transcript.AttendeeReport, aliases map[string]string) error {
	prev, _, _ := s.LoadBackup(ctx)

	chunks := Chunk(entries, s.chunkBytes)
	for i, c := range chunks {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal backup chunk %d: %w", i, err)
		}
		if err := s.kv.Set(ctx, chunkKey(backupKey, i), b); err != nil {
			return fmt.Errorf("write backup chunk %d: %w", i, err)
		}
	}

	// Drop stale chunks from a previously larger backup.
	if prev != nil {
		for i := len(chunks); i < prev.ChunkCount; i++ {
			_ = s.kv.Delete(ctx, chunkKey(backupKey, i))
		}
	}

	meta := Backup{
		Title:      title,
		StartedAt:  startedAt,
		SavedAt:    time.Now().UTC(),
		ChunkCount: len(chunks),
		Report:     report,
		Aliases:    aliases,
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal backup meta: %w", err)
	}
	if err := s.kv.Set(ctx, backupKey, b); err != nil {
		return fmt.Errorf("write backup meta: %w", err)
	}
	return nil
}

// LoadBackup rehydrates the backup slot. Missing chunks are skipped.
// Returns (nil, nil, nil) when no backup exists.
func (s *SessionStore) LoadBackup(ctx context.Context) (*Backup, []transcript.Entry, error) {
	b, err := s.kv.Get(ctx, backupKey)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var meta Backup
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshal backup meta: %w", err)
	}

	var chunks [][]transcript.Entry
	for i := 0; i < meta.ChunkCount; i++ {
		cb, err := s.kv.Get(ctx, chunkKey(backupKey, i))
		if err != nil {
			continue
		}
		var c []transcript.Entry
		if err := json.Unmarshal(cb, &c); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}

	return &meta, Reassemble(chunks), nil
}

// DeleteBackup clears the slot after a clean finalize.
func (s *SessionStore) DeleteBackup(ctx context.Context) error {
	meta, _, err := s.LoadBackup(ctx)
	if err != nil || meta == nil {
		return err
	}
	keys := []string{backupKey}
	for i := 0; i < meta.ChunkCount; i++ {
		keys = append(keys, chunkKey(backupKey, i))
	}
	return s.kv.Delete(ctx, keys...)
}
