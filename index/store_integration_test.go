package index_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/database"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
	"github.com/fabfab/hearings-ai/index"
	"github.com/fabfab/hearings-ai/metadata"
	"github.com/fabfab/hearings-ai/search"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	dim := cfg.Embeddings.Dimension
	require.NoError(t, database.EnsureSchema(ctx, pool, dim))

	proceeding := "it-" + uuid.NewString()
	public := document.Metadata{
		ID:                   uuid.NewString(),
		ProceedingID:         proceeding,
		DocumentType:         document.TypeDecision,
		ConfidentialityLevel: document.LevelPublic,
		Title:                "Grassy Mountain decision",
		Status:               document.StatusIndexed,
	}
	sealed := document.Metadata{
		ID:                   uuid.NewString(),
		ProceedingID:         proceeding,
		DocumentType:         document.TypeEvidence,
		ConfidentialityLevel: document.LevelProtectedA,
		Parties:              []document.Party{{Name: "Crowsnest Pass Residents Association", Role: document.RoleIntervener}},
		Title:                "Groundwater exhibit",
		Status:               document.StatusIndexed,
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DELETE FROM hearing_documents WHERE proceeding_id = $1", proceeding)
	})

	docs := metadata.NewPostgresStore(pool)
	require.NoError(t, docs.Put(ctx, public))
	require.NoError(t, docs.Put(ctx, sealed))

	vec := func(x, y float32) []float32 {
		v := make([]float32, dim)
		v[0], v[1] = x, y
		return v
	}
	policy := access.NewPolicy(access.ExactMatch)
	store := index.NewStore(pool, policy, nil, dim)
	require.NoError(t, store.UpsertChunks(ctx, public, []index.Record{
		{Chunk: document.Chunk{ChunkID: 0, Content: "The panel approves the coal mine application.", PageNumber: 1, TokenCount: 8}, Embedding: vec(1, 0)},
		{Chunk: document.Chunk{ChunkID: 1, Content: "Selenium management was considered.", PageNumber: 2, TokenCount: 5, RegulatoryCitations: []string{"EPEA s. 4"}}, Embedding: vec(0, 1)},
	}))
	require.NoError(t, store.UpsertChunks(ctx, sealed, []index.Record{
		{Chunk: document.Chunk{ChunkID: 0, Content: "Groundwater selenium readings near the coal mine.", PageNumber: 3, TokenCount: 7}, Embedding: vec(1, 0.1)},
	}))

	scope := filter.Eq{Field: filter.FieldProceedingID, Value: proceeding}

	t.Run("vector search honours the access filter", func(t *testing.T) {
		claims := access.DemoProfiles["Public"]
		res, err := store.Search(ctx, search.BackendQuery{
			Vector: vec(1, 0),
			Filter: filter.AllOf(policy.FilterPredicate(claims), scope),
			Top:    5,
			Facets: search.DefaultFacets,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, public.ID, res.Hits[0].Document.ID)
		assert.Equal(t, 0, res.Hits[0].Chunk.ChunkID)
		assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-6)
		assert.False(t, res.Exact)
		assert.Equal(t, []search.FacetValue{{Value: "decision", Count: 2}}, res.Facets[filter.FieldDocumentType])
	})

	t.Run("intervener sees own protected exhibit", func(t *testing.T) {
		claims := access.DemoProfiles["Intervener"]
		res, err := store.Search(ctx, search.BackendQuery{
			Text:   "selenium",
			Filter: filter.AllOf(policy.FilterPredicate(claims), scope),
			Top:    5,
		})
		require.NoError(t, err)
		assert.True(t, res.Exact)
		assert.Equal(t, 2, res.TotalCount)
		for _, h := range res.Hits {
			assert.True(t, policy.CanAccess(claims, h.Document))
		}
	})

	t.Run("hybrid fuses both rankings", func(t *testing.T) {
		res, err := store.Search(ctx, search.BackendQuery{
			Text:   "coal mine",
			Vector: vec(1, 0),
			Filter: filter.AllOf(policy.FilterPredicate(access.DemoProfiles["Staff"]), scope),
			Top:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Greater(t, res.Hits[0].Score, 0.0)
	})

	t.Run("chunk window and delete", func(t *testing.T) {
		window, err := store.ChunkWindow(ctx, public.ID, 0, 5)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, []string{"EPEA s. 4"}, window[1].RegulatoryCitations)

		require.NoError(t, store.DeleteDocumentChunks(ctx, public.ID))
		all, err := store.DocumentChunks(ctx, public.ID)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("metadata round trip", func(t *testing.T) {
		got, err := docs.Get(ctx, sealed.ID)
		require.NoError(t, err)
		assert.Equal(t, sealed.Parties, got.Parties)
		assert.Equal(t, document.LevelProtectedA, got.ConfidentialityLevel)

		listed, err := docs.ListByProceeding(ctx, proceeding)
		require.NoError(t, err)
		assert.Len(t, listed, 2)

		_, err = docs.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})
}
