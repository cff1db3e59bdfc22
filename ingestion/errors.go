package ingestion

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPageExtraction means a payload produced no usable text.
	ErrPageExtraction = errors.New("page extraction failed")
	// ErrNoChunks means non-empty pages produced no chunks.
	ErrNoChunks = errors.New("no chunks produced")
	// ErrNoMetadata means a file could not be matched to document metadata.
	ErrNoMetadata = errors.New("no metadata for file")
)

// ChunkRange is an inclusive range of chunk ids.
type ChunkRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (r ChunkRange) String() string {
	if r.First == r.Last {
		return fmt.Sprintf("%d", r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// BatchError reports which chunk ranges of a document were persisted and
// which were not.
type BatchError struct {
	DocumentID string
	Succeeded  []ChunkRange
	Failed     []ChunkRange
	Cause      error
}

func (e *BatchError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		failed = append(failed, r.String())
	}
	return fmt.Sprintf("document %s: chunks %s not indexed: %v", e.DocumentID, strings.Join(failed, ","), e.Cause)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}

// mergeRanges sorts ranges and joins adjacent or overlapping ones.
func mergeRanges(ranges []ChunkRange) []ChunkRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]ChunkRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].First < sorted[j].First })
	out := []ChunkRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.First <= last.Last+1 {
			if r.Last > last.Last {
				last.Last = r.Last
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
