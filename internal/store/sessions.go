package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

const (
	indexKey  = "session_index"
	backupKey = "transcript_backup"

	maxIndexedSpeakers = 10
	previewEntries     = 3
	previewTextLen     = 50
)

// SessionMetadata describes one persisted capture session. The index is a
// single ordered list of these, kept sorted newest-first.
type SessionMetadata struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Timestamp     time.Time `json:"timestamp"`
	CaptionCount  int       `json:"caption_count"`
	ChunkCount    int       `json:"chunk_count"`
	Speakers      []string  `json:"speakers"`
	AttendeeCount int       `json:"attendee_count"`
	Preview       string    `json:"preview"`
	SizeBytes     int       `json:"size_bytes"`
}

// Session is a fully reassembled persisted session.
type Session struct {
	Metadata SessionMetadata            `json:"metadata"`
	Entries  []transcript.Entry         `json:"entries"`
	Report   *transcript.AttendeeReport `json:"attendee_report,omitempty"`
}

// StorageStats summarizes quota consumption across retained sessions.
type StorageStats struct {
	UsedBytes    int64      `json:"used_bytes"`
	QuotaBytes   int64      `json:"quota_bytes"`
	SessionCount int        `json:"session_count"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
}

// Config bounds the session store. Zero values fall back to the
// reference limits: 8MB quota, 10 sessions, 7000-byte chunks.
type Config struct {
	QuotaBytes  int64
	MaxSessions int
	ChunkBytes  int
}

// SessionStore persists transcripts into size-bounded chunks under a
// global quota with oldest-first eviction. Writes are sequential with no
// rollback on partial failure; reads reassemble best-effort.
type SessionStore struct {
	kv          KV
	quota       int64
	maxSessions int
	chunkBytes  int
}

func NewSessionStore(kv KV, cfg Config) *SessionStore {
	if cfg.QuotaBytes <= 0 {
		cfg.QuotaBytes = 8 * 1024 * 1024
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.ChunkBytes <= 0 || cfg.ChunkBytes > MaxValueBytes {
		cfg.ChunkBytes = 7000
	}
	return &SessionStore{
		kv:          kv,
		quota:       cfg.QuotaBytes,
		maxSessions: cfg.MaxSessions,
		chunkBytes:  cfg.ChunkBytes,
	}
}

// SaveSession chunks the transcript, evicts old sessions if the quota or
// session cap would be exceeded, writes metadata plus chunk records, and
// returns the new session id.
func (s *SessionStore) SaveSession(ctx context.Context, title string, entries []transcript.Entry, report *transcript.AttendeeReport) (string, error) {
	if title == "" {
		title = "Untitled Meeting"
	}

	sessionID := "session_" + uuid.New().String()
	chunks := Chunk(entries, s.chunkBytes)

	meta := SessionMetadata{
		ID:           sessionID,
		Title:        title,
		Timestamp:    time.Now().UTC(),
		CaptionCount: len(entries),
		ChunkCount:   len(chunks),
		Speakers:     capSpeakers(entries),
		Preview:      preview(entries),
		SizeBytes:    transcriptSize(entries),
	}
	if report != nil {
		meta.AttendeeCount = report.Total
	}

	index, err := s.Index(ctx)
	if err != nil {
		return "", fmt.Errorf("read session index: %w", err)
	}

	// Free quota before writing, oldest-timestamp-first.
	index, err = s.evictForSpace(ctx, index, int64(meta.SizeBytes))
	if err != nil {
		return "", err
	}

	for i, c := range chunks {
		b, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("marshal chunk %d: %w", i, err)
		}
		if err := s.kv.Set(ctx, chunkKey(sessionID, i), b); err != nil {
			return "", fmt.Errorf("write chunk %d: %w", i, err)
		}
	}

	if report != nil {
		b, err := json.Marshal(report)
		if err == nil {
			if err := s.kv.Set(ctx, attendeeKey(sessionID), b); err != nil {
				slog.Warn("attendee report not persisted", "session_id", sessionID, "error", err)
			}
		}
	}

	index = append(index, meta)
	sortIndex(index)

	// Enforce the session cap, dropping the oldest.
	for len(index) > s.maxSessions {
		victim := index[len(index)-1]
		index = index[:len(index)-1]
		if err := s.deleteSessionData(ctx, victim); err != nil {
			slog.Warn("failed to delete evicted session data", "session_id", victim.ID, "error", err)
		}
	}

	if err := s.writeIndex(ctx, index); err != nil {
		return "", err
	}

	slog.Info("session saved", "session_id", sessionID, "chunks", len(chunks), "captions", len(entries))
	return sessionID, nil
}

// LoadSession reassembles chunks 0..ChunkCount-1 in order. Missing chunks
// are skipped — reassembly is best-effort, there is no integrity hash.
func (s *SessionStore) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	index, err := s.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var meta *SessionMetadata
	for i := range index {
		if index[i].ID == sessionID {
			meta = &index[i]
			break
		}
	}
	if meta == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	var chunks [][]transcript.Entry
	for i := 0; i < meta.ChunkCount; i++ {
		b, err := s.kv.Get(ctx, chunkKey(sessionID, i))
		if err != nil {
			slog.Warn("chunk missing, skipping", "session_id", sessionID, "chunk", i, "error", err)
			continue
		}
		var c []transcript.Entry
		if err := json.Unmarshal(b, &c); err != nil {
			slog.Warn("chunk unreadable, skipping", "session_id", sessionID, "chunk", i, "error", err)
			continue
		}
		chunks = append(chunks, c)
	}

	sess := &Session{Metadata: *meta, Entries: Reassemble(chunks)}

	if b, err := s.kv.Get(ctx, attendeeKey(sessionID)); err == nil {
		var r transcript.AttendeeReport
		if err := json.Unmarshal(b, &r); err == nil {
			sess.Report = &r
		}
	}

	return sess, nil
}

// DeleteSession removes the chunk keys, the attendee key, and the index
// entry together.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	index, err := s.Index(ctx)
	if err != nil {
		return fmt.Errorf("read session index: %w", err)
	}

	// Filter into a fresh slice; an in-place filter would overwrite the
	// victim's slot before its chunk keys are read.
	kept := make([]SessionMetadata, 0, len(index))
	var victim SessionMetadata
	found := false
	for _, meta := range index {
		if meta.ID == sessionID {
			victim = meta
			found = true
			continue
		}
		kept = append(kept, meta)
	}
	if !found {
		return nil
	}

	if err := s.deleteSessionData(ctx, victim); err != nil {
		return err
	}
	return s.writeIndex(ctx, kept)
}

// ClearAllSessions deletes every retained session and resets the index.
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	index, err := s.Index(ctx)
	if err != nil {
		return fmt.Errorf("read session index: %w", err)
	}
	for _, meta := range index {
		if err := s.deleteSessionData(ctx, meta); err != nil {
			slog.Warn("failed to delete session data", "session_id", meta.ID, "error", err)
		}
	}
	return s.writeIndex(ctx, nil)
}

// Index returns the session list, newest first.
func (s *SessionStore) Index(ctx context.Context) ([]SessionMetadata, error) {
	b, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var index []SessionMetadata
	if err := json.Unmarshal(b, &index); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}
	sortIndex(index)
	return index, nil
}

// Stats reports quota consumption.
func (s *SessionStore) Stats(ctx context.Context) (StorageStats, error) {
	index, err := s.Index(ctx)
	if err != nil {
		return StorageStats{}, err
	}
	st := StorageStats{QuotaBytes: s.quota, SessionCount: len(index)}
	for _, m := range index {
		st.UsedBytes += int64(m.SizeBytes)
	}
	if len(index) > 0 {
		newest := index[0].Timestamp
		oldest := index[len(index)-1].Timestamp
		st.Newest = &newest
		st.Oldest = &oldest
	}
	return st, nil
}

// evictForSpace frees quota for an incoming session of the given size,
// deleting oldest-timestamp-first until enough space is freed or the
// index is empty. Returns the surviving index.
func (s *SessionStore) evictForSpace(ctx context.Context, index []SessionMetadata, incoming int64) ([]SessionMetadata, error) {
	var used int64
	for _, m := range index {
		used += int64(m.SizeBytes)
	}

	for used+incoming > s.quota && len(index) > 0 {
		victim := index[len(index)-1]
		index = index[:len(index)-1]
		used -= int64(victim.SizeBytes)

		if err := s.deleteSessionData(ctx, victim); err != nil {
			return index, fmt.Errorf("evict session %s: %w", victim.ID, err)
		}
		slog.Info("evicted session for quota", "session_id", victim.ID, "freed_bytes", victim.SizeBytes)
	}
	return index, nil
}

func (s *SessionStore) deleteSessionData(ctx context.Context, meta SessionMetadata) error {
	keys := make([]string, 0, meta.ChunkCount+1)
	for i := 0; i < meta.ChunkCount; i++ {
		keys = append(keys, chunkKey(meta.ID, i))
	}
	keys = append(keys, attendeeKey(meta.ID))
	return s.kv.Delete(ctx, keys...)
}

func (s *SessionStore) writeIndex(ctx context.Context, index []SessionMetadata) error {
	sortIndex(index)
	b, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := s.kv.Set(ctx, indexKey, b); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	return nil
}

func sortIndex(index []SessionMetadata) {
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].Timestamp.After(index[j].Timestamp)
	})
}

func chunkKey(sessionID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", sessionID, i)
}

func attendeeKey(sessionID string) string {
	return sessionID + "_attendees"
}

func capSpeakers(entries []transcript.Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if seen[e.Speaker] {
			continue
		}
		seen[e.Speaker] = true
		out = append(out, e.Speaker)
		if len(out) == maxIndexedSpeakers {
			break
		}
	}
	return out
}

func preview(entries []transcript.Entry) string {
	n := previewEntries
	if len(entries) < n {
		n = len(entries)
	}
	parts := make([]string, 0, n)
	for _, e := range entries[:n] {
		parts = append(parts, e.Speaker+": "+truncate(e.Text, previewTextLen))
	}
	return strings.Join(parts, " | ")
}

// truncate cuts text to at most max bytes without splitting a rune.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
