package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/document"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	failing bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failing {
		return nil, errors.New("redis unavailable")
	}
	v, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("redis unavailable")
	}
	c.entries[key] = value
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("redis unavailable")
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

type countingStore struct {
	*MemoryStore
	gets int
}

func (s *countingStore) Get(ctx context.Context, id string) (document.Metadata, error) {
	s.gets++
	return s.MemoryStore.Get(ctx, id)
}

func sampleMetadata(id string) document.Metadata {
	return document.Metadata{
		ID:                   id,
		ProceedingID:         "379",
		DocumentType:         document.TypeEvidence,
		ConfidentialityLevel: document.LevelProtectedA,
		Parties:              []document.Party{{Name: "Benga Mining Limited", Role: document.RoleApplicant}},
		Status:               document.StatusIndexed,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.SetStatus(ctx, "missing", document.StatusFailed, "x"), ErrNotFound)

	uploaded := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	b := sampleMetadata("b")
	b.UploadedAt = uploaded
	require.NoError(t, store.Put(ctx, b))
	require.NoError(t, store.Put(ctx, sampleMetadata("b")))
	again, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, uploaded, again.UploadedAt, "re-ingestion keeps the upload time")

	a := sampleMetadata("a")
	a.UploadedAt = uploaded.Add(time.Hour)
	require.NoError(t, store.Put(ctx, a))
	other := sampleMetadata("c")
	other.ProceedingID = "380"
	require.NoError(t, store.Put(ctx, other))

	require.NoError(t, store.SetStatus(ctx, "a", document.StatusFailed, "chunks 2-3 not indexed"))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Equal(t, "chunks 2-3 not indexed", got.FailureReason)

	docs, err := store.ListByProceeding(ctx, "379")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
}

func TestCachedStoreReadsThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, backing.Put(ctx, sampleMetadata("doc")))
	cache := newMapCache()
	store := NewCachedStore(backing, cache, time.Minute, nil)

	first, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	second, err := store.Get(ctx, "doc")
	require.NoError(t, err)

	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, first.Parties, second.Parties)
	assert.Equal(t, document.LevelProtectedA, second.ConfidentialityLevel)
	assert.Contains(t, cache.entries, "hearings:document:doc")
}

func TestCachedStoreInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, backing.Put(ctx, sampleMetadata("doc")))
	cache := newMapCache()
	store := NewCachedStore(backing, cache, time.Minute, nil)

	_, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, "doc", document.StatusFailed, "boom"))
	assert.Empty(t, cache.entries)

	got, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Empty(t, cache.entries, "documents that are not indexed are not cached")

	updated := sampleMetadata("doc")
	updated.ConfidentialityLevel = document.LevelConfidential
	require.NoError(t, store.Put(ctx, updated))
	got, err = store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, document.LevelConfidential, got.ConfidentialityLevel)
}

func TestCachedStoreSurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, backing.Put(ctx, sampleMetadata("doc")))
	cache := newMapCache()
	cache.failing = true
	store := NewCachedStore(backing, cache, time.Minute, nil)

	got, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc", got.ID)
	require.NoError(t, store.SetStatus(ctx, "doc", document.StatusIndexed, ""))

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStoreFailsClosedOnBadLevel(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cache.entries[cacheKey("doc")] = []byte(`{"id":"doc","proceeding_id":"379","document_type":"evidence","confidentiality_level":"secret-ish"}`)
	store := NewCachedStore(NewMemoryStore(), cache, time.Minute, nil)

	got, err := store.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, document.LevelConfidential, got.ConfidentialityLevel)
}
