package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/search"
)

func hit(doc string, chunk int) search.Hit {
	return search.Hit{Document: document.Metadata{ID: doc}, Chunk: document.Chunk{ChunkID: chunk}}
}

func ids(hits []search.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = fmt.Sprintf("%s/%d", h.Document.ID, h.Chunk.ChunkID)
	}
	return out
}

func TestFuseRewardsAgreement(t *testing.T) {
	keyword := []search.Hit{hit("a", 0), hit("b", 1), hit("c", 2)}
	vector := []search.Hit{hit("c", 2), hit("b", 1), hit("d", 0)}

	fused := fuse(10, keyword, vector)

	// b and c appear in both lists; c ranks first in one and third in the
	// other, b second in both, so they tie and break on document id.
	assert.Equal(t, []string{"b/1", "c/2", "a/0", "d/0"}, ids(fused))
	assert.InDelta(t, 2.0/62, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/61+1.0/63, fused[1].Score, 1e-12)
	assert.InDelta(t, 1.0/61, fused[2].Score, 1e-12)
}

func TestFuseTruncatesAndKeepsChunksDistinct(t *testing.T) {
	keyword := []search.Hit{hit("a", 0), hit("a", 1), hit("a", 2)}
	vector := []search.Hit{hit("a", 1)}

	fused := fuse(2, keyword, vector)
	assert.Equal(t, []string{"a/1", "a/0"}, ids(fused))
}

func TestFuseEmpty(t *testing.T) {
	assert.Empty(t, fuse(5))
	assert.Empty(t, fuse(5, nil, nil))
}

func TestClassify(t *testing.T) {
	kind := func(err error) search.BackendErrorKind {
		var be *search.BackendError
		require.ErrorAs(t, err, &be)
		return be.Kind
	}

	assert.Nil(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.Equal(t, search.BackendTimeout, kind(classify("op", fmt.Errorf("query: %w", context.DeadlineExceeded))))
	assert.Equal(t, search.BackendTimeout, kind(classify("op", &pgconn.PgError{Code: "57014"})))
	assert.Equal(t, search.BackendTransient, kind(classify("op", &pgconn.PgError{Code: "08006"})))
	assert.Equal(t, search.BackendTransient, kind(classify("op", &pgconn.PgError{Code: "53300"})))
	assert.Equal(t, search.BackendTerminal, kind(classify("op", &pgconn.PgError{Code: "42P01"})))
	assert.Equal(t, search.BackendTransient, kind(classify("op", errors.New("connection reset by peer"))))

	wrapped := classify("vector search", &pgconn.PgError{Code: "42703", Message: "column does not exist"})
	assert.Contains(t, wrapped.Error(), "op=vector search")
	assert.True(t, search.IsTimeout(classify("op", context.DeadlineExceeded)))
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	store := NewStore(nil, nil, nil, 3)
	_, err := store.Search(context.Background(), search.BackendQuery{Top: 5})
	var be *search.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, search.BackendTerminal, be.Kind)
}

func TestUpsertChunksChecksDimension(t *testing.T) {
	store := NewStore(nil, nil, nil, 3)
	err := store.UpsertChunks(context.Background(), document.Metadata{ID: "doc"}, []Record{
		{Chunk: document.Chunk{ChunkID: 0}, Embedding: []float32{1, 0}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 dimensions, want 3")
	assert.NoError(t, store.UpsertChunks(context.Background(), document.Metadata{ID: "doc"}, nil))
}
