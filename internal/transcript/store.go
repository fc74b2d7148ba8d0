package transcript

import (
	"sync"
	"time"
)

// defaultRecentWindow is how many trailing entries the duplicate check
// scans when an entry arrives under a content-derived key.
const defaultRecentWindow = 10

// Store is the canonical ordered transcript for one capture session.
// Entries keep their insertion order; updates merge in place by key.
type Store struct {
	mu           sync.Mutex
	entries      []Entry
	byKey        map[string]int
	aliases      map[string]string
	recentWindow int
}

// NewStore creates an empty transcript store.
func NewStore() *Store {
	return &Store{
		byKey:        make(map[string]int),
		aliases:      make(map[string]string),
		recentWindow: defaultRecentWindow,
	}
}

// Upsert inserts or updates the entry identified by key. For a known key
// the text and timestamp are replaced only when the text actually differs,
// so unchanged re-observations produce no delta and no storage churn.
// derived marks keys synthesized from (speaker, text) rather than a stable
// element identity; those go through the recent-window duplicate check
// before insertion, which protects against the upstream re-announcing a
// line with a fresh element identity.
//
// The returned bool reports whether the store changed.
func (s *Store) Upsert(key, speaker, text string, at time.Time, derived bool) (Delta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	display := speaker
	if alias, ok := s.aliases[speaker]; ok {
		display = alias
	}

	if idx, ok := s.byKey[key]; ok {
		if s.entries[idx].Text == text {
			return Delta{}, false
		}
		s.entries[idx].Text = text
		s.entries[idx].CommittedAt = at
		s.entries[idx].Speaker = display
		return Delta{Type: DeltaUpdate, Entry: s.entries[idx]}, true
	}

	if derived && s.recentDuplicate(speaker, text) {
		return Delta{}, false
	}

	e := Entry{
		ID:              key,
		Speaker:         display,
		OriginalSpeaker: speaker,
		Text:            text,
		CommittedAt:     at,
	}
	s.byKey[key] = len(s.entries)
	s.entries = append(s.entries, e)
	return Delta{Type: DeltaNew, Entry: e}, true
}

// recentDuplicate reports whether the trailing window already holds an
// identical (speaker, text) pair. Caller holds the lock.
func (s *Store) recentDuplicate(speaker, text string) bool {
	start := len(s.entries) - s.recentWindow
	if start < 0 {
		start = 0
	}
	for i := len(s.entries) - 1; i >= start; i-- {
		if s.entries[i].OriginalSpeaker == speaker && s.entries[i].Text == text {
			return true
		}
	}
	return false
}

// Snapshot returns a read-only ordered copy for export and broadcast.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Entry, len(s.entries))
	copy(cp, s.entries)
	return cp
}

// Len returns the number of committed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Speakers returns the unique original speaker names in first-seen order.
func (s *Store) Speakers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.entries {
		if !seen[e.OriginalSpeaker] {
			seen[e.OriginalSpeaker] = true
			out = append(out, e.OriginalSpeaker)
		}
	}
	return out
}

// SetAlias renames a speaker for display, retroactively across existing
// entries and for all future commits.
func (s *Store) SetAlias(original, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alias == "" {
		delete(s.aliases, original)
		alias = original
	} else {
		s.aliases[original] = alias
	}
	for i := range s.entries {
		if s.entries[i].OriginalSpeaker == original {
			s.entries[i].Speaker = alias
		}
	}
}

// Aliases returns a copy of the active speaker rename map.
func (s *Store) Aliases() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.aliases) == 0 {
		return nil
	}
	cp := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		cp[k] = v
	}
	return cp
}

// Restore replaces the store contents, used when rehydrating a backup
// after the host context was torn down. The alias map is reinstated and
// reapplied so restored and future entries display the renamed speakers.
func (s *Store) Restore(entries []Entry, aliases map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, len(entries))
	copy(s.entries, entries)
	s.byKey = make(map[string]int, len(entries))
	for i, e := range entries {
		s.byKey[e.ID] = i
	}
	s.aliases = make(map[string]string, len(aliases))
	for k, v := range aliases {
		s.aliases[k] = v
	}
	for i := range s.entries {
		if alias, ok := s.aliases[s.entries[i].OriginalSpeaker]; ok {
			s.entries[i].Speaker = alias
		}
	}
}

// Reset clears all entries and aliases for a new session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byKey = make(map[string]int)
	s.aliases = make(map[string]string)
}
