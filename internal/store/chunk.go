package store

import (
	"encoding/json"

	"github.com/Zerg00s/captions-relay/internal/transcript"
)

// Chunk greedily packs entries into size-bounded slices: iterate in order,
// accumulate serialized size, start a new chunk when adding the next entry
// would exceed maxBytes. A single entry larger than maxBytes still gets a
// chunk of its own — the per-key write will surface the failure.
func Chunk(entries []transcript.Entry, maxBytes int) [][]transcript.Entry {
	var chunks [][]transcript.Entry
	var current []transcript.Entry
	currentSize := 0

	for _, e := range entries {
		size := entrySize(e)
		if len(current) > 0 && currentSize+size > maxBytes {
			chunks = append(chunks, current)
			current = nil
			currentSize = 0
		}
		current = append(current, e)
		currentSize += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Reassemble concatenates chunks back into a single ordered transcript.
func Reassemble(chunks [][]transcript.Entry) []transcript.Entry {
	var out []transcript.Entry
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func entrySize(e transcript.Entry) int {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return len(b)
}

// transcriptSize is the serialized size of a full transcript, used for
// metadata and quota accounting.
func transcriptSize(entries []transcript.Entry) int {
	b, err := json.Marshal(entries)
	if err != nil {
		return 0
	}
	return len(b)
}
