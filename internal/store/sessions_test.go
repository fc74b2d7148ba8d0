package store_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/Zerg00s/captions-relay/internal/store"
	"github.com/Zerg00s/captions-relay/internal/testutil"
	"github.com/Zerg00s/captions-relay/internal/transcript"
)

func makeEntries(n, textLen int) []transcript.Entry {
	entries := make([]transcript.Entry, n)
	for i := range entries {
		entries[i] = transcript.Entry{
			ID:              fmt.Sprintf("caption_%03d", i),
			Speaker:         "Alice",
			OriginalSpeaker: "Alice",
			Text:            strings.Repeat("x", textLen),
			CommittedAt:     time.Date(2025, 6, 1, 10, 0, i, 0, time.UTC),
		}
	}
	return entries
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{})

	entries := makeEntries(40, 150)
	report := &transcript.AttendeeReport{Total: 3, Names: []string{"Alice", "Bob", "Carol"}}

	id, err := ss.SaveSession(ctx, "Weekly Sync", entries, report)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	sess, err := ss.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if diff := cmp.Diff(entries, sess.Entries); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if sess.Metadata.Title != "Weekly Sync" {
		t.Errorf("unexpected title %q", sess.Metadata.Title)
	}
	if sess.Metadata.CaptionCount != 40 {
		t.Errorf("expected caption count 40, got %d", sess.Metadata.CaptionCount)
	}
	if sess.Report == nil || sess.Report.Total != 3 {
		t.Errorf("attendee report not restored: %+v", sess.Report)
	}
}

func TestLoadSession_MissingChunkSkipped(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{ChunkBytes: 600})

	entries := makeEntries(20, 150)
	id, err := ss.SaveSession(ctx, "Lossy", entries, nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	kv.Drop(id + "_chunk_1")

	sess, err := ss.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sess.Entries) == 0 || len(sess.Entries) >= len(entries) {
		t.Errorf("expected partial reassembly, got %d of %d entries", len(sess.Entries), len(entries))
	}
}

func TestSessionCap_OldestDropped(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{MaxSessions: 10})

	var ids []string
	for i := 0; i < 11; i++ {
		id, err := ss.SaveSession(ctx, fmt.Sprintf("Meeting %d", i), makeEntries(3, 50), nil)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	index, err := ss.Index(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(index) != 10 {
		t.Fatalf("expected exactly 10 sessions, got %d", len(index))
	}

	// The survivor set is the 10 most recent.
	surviving := make(map[string]bool)
	for _, m := range index {
		surviving[m.ID] = true
	}
	if surviving[ids[0]] {
		t.Error("oldest session should have been dropped")
	}
	for _, id := range ids[1:] {
		if !surviving[id] {
			t.Errorf("recent session %s missing from index", id)
		}
	}
}

func TestQuotaEviction_OldestFirst(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()

	// Each session is roughly 5.5KB serialized; quota fits two.
	ss := store.NewSessionStore(kv, store.Config{QuotaBytes: 12 * 1024})

	id1, err := ss.SaveSession(ctx, "Oldest", makeEntries(20, 150), nil)
	if err != nil {
		t.Fatalf("save 1: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	id2, err := ss.SaveSession(ctx, "Middle", makeEntries(20, 150), nil)
	if err != nil {
		t.Fatalf("save 2: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	id3, err := ss.SaveSession(ctx, "Newest", makeEntries(20, 150), nil)
	if err != nil {
		t.Fatalf("save 3: %v", err)
	}

	index, err := ss.Index(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	byID := make(map[string]bool)
	for _, m := range index {
		byID[m.ID] = true
	}
	if byID[id1] {
		t.Error("oldest session should have been evicted for quota")
	}
	if !byID[id2] || !byID[id3] {
		t.Errorf("newer sessions should survive, index: %v", byID)
	}

	// Evicted chunks must be gone from the primitive too.
	if _, err := ss.LoadSession(ctx, id1); err == nil {
		t.Error("evicted session should not load")
	}
}

func TestDeleteSession_RemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{ChunkBytes: 600})

	report := &transcript.AttendeeReport{Total: 1, Names: []string{"Alice"}}
	id, err := ss.SaveSession(ctx, "Doomed", makeEntries(20, 150), report)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := ss.DeleteSession(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	keys, _ := kv.Keys(ctx, id)
	if len(keys) != 0 {
		t.Errorf("expected no keys left for session, got %v", keys)
	}
	index, _ := ss.Index(ctx)
	if len(index) != 0 {
		t.Errorf("expected empty index, got %d entries", len(index))
	}
}

func TestDeleteSession_SiblingsKeepTheirData(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{})

	oldID, err := ss.SaveSession(ctx, "Older", makeEntries(3, 50), nil)
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	newID, err := ss.SaveSession(ctx, "Newer", makeEntries(3, 50), nil)
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}

	// Delete the newest session, which sits at the head of the index.
	if err := ss.DeleteSession(ctx, newID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	keys, _ := kv.Keys(ctx, newID)
	if len(keys) != 0 {
		t.Errorf("deleted session left keys behind: %v", keys)
	}

	sess, err := ss.LoadSession(ctx, oldID)
	if err != nil {
		t.Fatalf("load surviving session: %v", err)
	}
	if len(sess.Entries) != 3 {
		t.Errorf("surviving session lost its chunks: got %d entries, want 3", len(sess.Entries))
	}
}

func TestDeleteSession_MiddleOfIndex(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := ss.SaveSession(ctx, fmt.Sprintf("M%d", i), makeEntries(3, 50), nil)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	if err := ss.DeleteSession(ctx, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	index, _ := ss.Index(ctx)
	if len(index) != 2 {
		t.Fatalf("index has %d entries, want 2", len(index))
	}
	for _, id := range []string{ids[0], ids[2]} {
		sess, err := ss.LoadSession(ctx, id)
		if err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
		if len(sess.Entries) != 3 {
			t.Errorf("session %s lost entries: got %d, want 3", id, len(sess.Entries))
		}
	}
}

func TestClearAllSessions(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{})

	for i := 0; i < 3; i++ {
		if _, err := ss.SaveSession(ctx, fmt.Sprintf("M%d", i), makeEntries(3, 50), nil); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	if err := ss.ClearAllSessions(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	index, _ := ss.Index(ctx)
	if len(index) != 0 {
		t.Errorf("expected empty index after clear, got %d", len(index))
	}
	keys, _ := kv.Keys(ctx, "session_")
	// Only the (empty) index key may remain.
	for _, k := range keys {
		if k != "session_index" {
			t.Errorf("orphan key after clear: %s", k)
		}
	}
}

func TestPreview_MultibyteTextStaysValidUTF8(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{})

	// 3-byte runes, long enough that a naive byte cut lands mid-rune.
	entries := []transcript.Entry{{
		ID:              "caption_000",
		Speaker:         "Алиса",
		OriginalSpeaker: "Алиса",
		Text:            strings.Repeat("№", 20),
		CommittedAt:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}}

	if _, err := ss.SaveSession(ctx, "Юнікод", entries, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	index, err := ss.Index(ctx)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !utf8.ValidString(index[0].Preview) {
		t.Errorf("preview is not valid UTF-8: %q", index[0].Preview)
	}
	if !strings.Contains(index[0].Preview, "№") {
		t.Errorf("preview lost its text: %q", index[0].Preview)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{QuotaBytes: 1024 * 1024})

	if _, err := ss.SaveSession(ctx, "One", makeEntries(5, 100), nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	st, err := ss.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.SessionCount != 1 {
		t.Errorf("expected 1 session, got %d", st.SessionCount)
	}
	if st.UsedBytes <= 0 {
		t.Errorf("expected positive usage, got %d", st.UsedBytes)
	}
	if st.QuotaBytes != 1024*1024 {
		t.Errorf("unexpected quota %d", st.QuotaBytes)
	}
}

func TestBackup_RoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemKV()
	ss := store.NewSessionStore(kv, store.Config{ChunkBytes: 600})

	entries := makeEntries(20, 150)
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	if err := ss.SaveBackup(ctx, "In Progress", started, entries, nil, map[string]string{"Speaker 1": "Dana"}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	meta, got, err := ss.LoadBackup(ctx)
	if err != nil {
		t.Fatalf("load backup: %v", err)
	}
	if meta == nil || meta.Title != "In Progress" {
		t.Fatalf("unexpected backup meta: %+v", meta)
	}
	if meta.Aliases["Speaker 1"] != "Dana" {
		t.Errorf("backup aliases = %v, want Speaker 1 -> Dana", meta.Aliases)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("backup mismatch (-want +got):\n%s", diff)
	}

	// A smaller follow-up backup must not leave stale chunks behind.
	if err := ss.SaveBackup(ctx, "In Progress", started, entries[:2], nil, nil); err != nil {
		t.Fatalf("second backup: %v", err)
	}
	_, got, _ = ss.LoadBackup(ctx)
	if len(got) != 2 {
		t.Errorf("expected 2 entries after smaller backup, got %d", len(got))
	}

	if err := ss.DeleteBackup(ctx); err != nil {
		t.Fatalf("delete backup: %v", err)
	}
	meta, _, _ = ss.LoadBackup(ctx)
	if meta != nil {
		t.Error("expected no backup after delete")
	}
}
