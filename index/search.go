package index

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
	"github.com/fabfab/hearings-ai/search"
)

const (
	// rrfK damps the contribution of lower ranks in reciprocal rank fusion.
	rrfK = 60
	// Hybrid search fuses candidate lists this many times larger than the page.
	candidateFactor = 4
	minCandidates   = 20
	maxCandidates   = 200
)

const hitSelect = `c.document_id, c.proceeding_id, c.document_type, c.confidentiality_level, c.parties,
	COALESCE(c.abaer_citation, ''), COALESCE(c.title, ''),
	c.chunk_id, c.content, c.page_number, COALESCE(c.paragraph_number, ''),
	c.regulatory_citations, c.token_count, c.overlap_length`

// Search runs a filtered retrieval. A query with both text and vector is
// answered by fusing the keyword and vector rankings.
func (s *Store) Search(ctx context.Context, q search.BackendQuery) (search.BackendResult, error) {
	if q.Text == "" && len(q.Vector) == 0 {
		return search.BackendResult{}, search.NewBackendError("search", search.BackendTerminal, fmt.Errorf("query has neither text nor vector"))
	}
	top := q.Top
	if top <= 0 {
		top = 10
	}
	where, args, err := filter.RenderSQL(q.Filter, chunkColumns, 1)
	if err != nil {
		return search.BackendResult{}, search.NewBackendError("render filter", search.BackendTerminal, err)
	}

	var result search.BackendResult
	switch {
	case q.Text != "" && len(q.Vector) > 0:
		pool := min(max(top*candidateFactor, minCandidates), maxCandidates)
		keyword, err := s.keywordHits(ctx, where, args, q.Text, pool)
		if err != nil {
			return search.BackendResult{}, err
		}
		vector, err := s.vectorHits(ctx, where, args, q.Vector, pool)
		if err != nil {
			return search.BackendResult{}, err
		}
		result.Hits = fuse(top, keyword, vector)
	case q.Text != "":
		result.Hits, err = s.keywordHits(ctx, where, args, q.Text, top)
		if err != nil {
			return search.BackendResult{}, err
		}
		result.TotalCount, err = s.keywordCount(ctx, where, args, q.Text)
		if err != nil {
			return search.BackendResult{}, err
		}
		result.Exact = true
	default:
		result.Hits, err = s.vectorHits(ctx, where, args, q.Vector, top)
		if err != nil {
			return search.BackendResult{}, err
		}
	}

	// Keyword-only facets count the matched chunks; otherwise every chunk
	// passing the filter is counted.
	facetWhere, facetArgs := where, args
	if q.Text != "" && len(q.Vector) == 0 {
		facetWhere, facetArgs = withTextMatch(where, args, q.Text)
	}
	if len(q.Facets) > 0 {
		result.Facets, err = s.facets(ctx, facetWhere, facetArgs, q.Facets)
		if err != nil {
			return search.BackendResult{}, err
		}
	}
	return result, nil
}

func (s *Store) vectorHits(ctx context.Context, where string, args []any, vector []float32, limit int) ([]search.Hit, error) {
	v := len(args) + 1
	sql := fmt.Sprintf(`
		SELECT %s, (1 - (c.embedding <=> $%d))::float8 AS score
		FROM hearing_chunks c
		WHERE %s
		ORDER BY c.embedding <=> $%d, c.document_id, c.chunk_id
		LIMIT $%d
	`, hitSelect, v, where, v, v+1)
	rows, err := s.db.Query(ctx, sql, append(append([]any{}, args...), pgvector.NewVector(vector), limit)...)
	if err != nil {
		return nil, classify("vector search", err)
	}
	return collectHits(rows)
}

func (s *Store) keywordHits(ctx context.Context, where string, args []any, text string, limit int) ([]search.Hit, error) {
	t := len(args) + 1
	sql := fmt.Sprintf(`
		SELECT %s, ts_rank(c.content_tsv, plainto_tsquery('english', $%d))::float8 AS score
		FROM hearing_chunks c
		WHERE c.content_tsv @@ plainto_tsquery('english', $%d) AND (%s)
		ORDER BY score DESC, c.document_id, c.chunk_id
		LIMIT $%d
	`, hitSelect, t, t, where, t+1)
	rows, err := s.db.Query(ctx, sql, append(append([]any{}, args...), text, limit)...)
	if err != nil {
		return nil, classify("keyword search", err)
	}
	return collectHits(rows)
}

func (s *Store) keywordCount(ctx context.Context, where string, args []any, text string) (int, error) {
	where, args = withTextMatch(where, args, text)
	var total int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM hearing_chunks c WHERE "+where, args...).Scan(&total); err != nil {
		return 0, classify("keyword count", err)
	}
	return total, nil
}

func withTextMatch(where string, args []any, text string) (string, []any) {
	clause := fmt.Sprintf("c.content_tsv @@ plainto_tsquery('english', $%d) AND (%s)", len(args)+1, where)
	return clause, append(append([]any{}, args...), text)
}

func (s *Store) facets(ctx context.Context, where string, args []any, specs []search.FacetSpec) (map[filter.Field][]search.FacetValue, error) {
	out := make(map[filter.Field][]search.FacetValue, len(specs))
	for _, spec := range specs {
		column, ok := chunkColumns[spec.Field]
		if !ok {
			return nil, search.NewBackendError("facets", search.BackendTerminal, fmt.Errorf("field %q cannot be faceted", spec.Field))
		}
		count := spec.Count
		if count <= 0 {
			count = 10
		}
		from := "hearing_chunks c"
		value := column
		if collectionFields[spec.Field] {
			from = fmt.Sprintf("hearing_chunks c CROSS JOIN LATERAL unnest(%s) AS f(value)", column)
			value = "f.value"
		}
		sql := fmt.Sprintf(`
			SELECT %s AS value, count(*) AS n
			FROM %s
			WHERE %s
			GROUP BY 1
			ORDER BY n DESC, value
			LIMIT $%d
		`, value, from, where, len(args)+1)
		rows, err := s.db.Query(ctx, sql, append(append([]any{}, args...), count)...)
		if err != nil {
			return nil, classify("facets", err)
		}
		values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (search.FacetValue, error) {
			var fv search.FacetValue
			err := row.Scan(&fv.Value, &fv.Count)
			return fv, err
		})
		if err != nil {
			return nil, classify("facets", err)
		}
		out[spec.Field] = values
	}
	return out, nil
}

func collectHits(rows pgx.Rows) ([]search.Hit, error) {
	defer rows.Close()
	var hits []search.Hit
	for rows.Next() {
		var (
			h       search.Hit
			docType string
			level   string
			parties []string
		)
		if err := rows.Scan(
			&h.Document.ID, &h.Document.ProceedingID, &docType, &level, &parties,
			&h.Document.CanonicalCitation, &h.Document.Title,
			&h.Chunk.ChunkID, &h.Chunk.Content, &h.Chunk.PageNumber, &h.Chunk.ParagraphNumber,
			&h.Chunk.RegulatoryCitations, &h.Chunk.TokenCount, &h.Chunk.OverlapLength,
			&h.Score,
		); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Document.DocumentType = document.DocumentType(docType)
		h.Document.ConfidentialityLevel = document.StoredLevel(level)
		for _, name := range parties {
			h.Document.Parties = append(h.Document.Parties, document.Party{Name: name})
		}
		h.Document.Status = document.StatusIndexed
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read hits", err)
	}
	return hits, nil
}

type hitKey struct {
	documentID string
	chunkID    int
}

// fuse merges rankings with reciprocal rank fusion and keeps the top entries.
// Ties are broken by document and chunk id so the order is stable.
func fuse(top int, rankings ...[]search.Hit) []search.Hit {
	scores := make(map[hitKey]float64)
	first := make(map[hitKey]search.Hit)
	var order []hitKey
	for _, ranking := range rankings {
		for rank, hit := range ranking {
			key := hitKey{documentID: hit.Document.ID, chunkID: hit.Chunk.ChunkID}
			if _, seen := first[key]; !seen {
				first[key] = hit
				order = append(order, key)
			}
			scores[key] += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]search.Hit, 0, len(order))
	for _, key := range order {
		hit := first[key]
		hit.Score = scores[key]
		fused = append(fused, hit)
	}
	sortHits(fused)
	if top > 0 && len(fused) > top {
		fused = fused[:top]
	}
	return fused
}

func sortHits(hits []search.Hit) {
	slices.SortFunc(hits, func(a, b search.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if c := strings.Compare(a.Document.ID, b.Document.ID); c != 0 {
			return c
		}
		return a.Chunk.ChunkID - b.Chunk.ChunkID
	})
}
