package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fabfab/hearings-ai/document"
)

// MemoryStore keeps metadata in process. Handler and service tests use it in
// place of PostgreSQL.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]document.Metadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]document.Metadata)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (document.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.docs[id]
	if !ok {
		return document.Metadata{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return meta, nil
}

func (s *MemoryStore) Put(_ context.Context, meta document.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.docs[meta.ID]; ok && !prev.UploadedAt.IsZero() {
		meta.UploadedAt = prev.UploadedAt
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now().UTC()
	}
	meta.UpdatedAt = time.Now().UTC()
	s.docs[meta.ID] = meta
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status document.ProcessingStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	meta.Status = status
	meta.FailureReason = reason
	meta.UpdatedAt = time.Now().UTC()
	s.docs[id] = meta
	return nil
}

func (s *MemoryStore) ListByProceeding(_ context.Context, proceedingID string) ([]document.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []document.Metadata
	for _, meta := range s.docs {
		if meta.ProceedingID == proceedingID {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.Before(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
