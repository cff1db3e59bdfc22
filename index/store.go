// Package index stores embedded hearing chunks in PostgreSQL with pgvector and
// serves filtered vector, keyword and hybrid retrieval over them.
package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
	"github.com/fabfab/hearings-ai/logger"
)

// Record is a chunk with its embedding, ready to persist.
type Record struct {
	Chunk     document.Chunk
	Embedding []float32
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// chunkColumns maps filter fields onto hearing_chunks aliased as c.
var chunkColumns = filter.Columns{
	filter.FieldConfidentialityLevel: "c.confidentiality_level",
	filter.FieldPartyKeys:            "c.party_keys",
	filter.FieldParties:              "c.parties",
	filter.FieldDocumentType:         "c.document_type",
	filter.FieldProceedingID:         "c.proceeding_id",
	filter.FieldRegulatoryCitations:  "c.regulatory_citations",
	filter.FieldDocumentID:           "c.document_id",
}

// collectionFields are array columns; facets over them unnest the array.
var collectionFields = map[filter.Field]bool{
	filter.FieldPartyKeys:           true,
	filter.FieldParties:             true,
	filter.FieldRegulatoryCitations: true,
}

type Store struct {
	db        DB
	policy    *access.Policy
	logger    *logger.Logger
	dimension int
}

// NewStore builds a chunk store. policy supplies the party keys written next
// to each chunk so that the access filter can be evaluated in SQL.
func NewStore(db DB, policy *access.Policy, log *logger.Logger, dimension int) *Store {
	if policy == nil {
		policy = access.NewPolicy(access.ExactMatch)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, policy: policy, logger: log.With("component", "chunk_index"), dimension: dimension}
}

// DeleteDocumentChunks removes every chunk of a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM hearing_chunks WHERE document_id = $1", documentID)
	if err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("removed previous chunks", "document_id", documentID, "chunks", n)
	}
	return nil
}

// UpsertChunks writes records with the document fields the access filter and
// facets need. Each chunk keeps its explicit chunk id.
func (s *Store) UpsertChunks(ctx context.Context, doc document.Metadata, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	level := string(document.StoredLevel(string(doc.ConfidentialityLevel)))
	partyKeys := s.policy.PartyKeys(doc)
	parties := doc.PartyNames()
	if parties == nil {
		parties = []string{}
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		if s.dimension > 0 && len(rec.Embedding) != s.dimension {
			return fmt.Errorf("chunk %d: embedding has %d dimensions, want %d", rec.Chunk.ChunkID, len(rec.Embedding), s.dimension)
		}
		citations := rec.Chunk.RegulatoryCitations
		if citations == nil {
			citations = []string{}
		}
		batch.Queue(`
			INSERT INTO hearing_chunks (
				document_id, chunk_id, proceeding_id, document_type, confidentiality_level, party_keys, parties,
				abaer_citation, title, content, page_number, paragraph_number, regulatory_citations,
				token_count, overlap_length, embedding
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, NULLIF($12, ''), $13, $14, $15, $16)
			ON CONFLICT (document_id, chunk_id) DO UPDATE SET
				proceeding_id = EXCLUDED.proceeding_id,
				document_type = EXCLUDED.document_type,
				confidentiality_level = EXCLUDED.confidentiality_level,
				party_keys = EXCLUDED.party_keys,
				parties = EXCLUDED.parties,
				abaer_citation = EXCLUDED.abaer_citation,
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				page_number = EXCLUDED.page_number,
				paragraph_number = EXCLUDED.paragraph_number,
				regulatory_citations = EXCLUDED.regulatory_citations,
				token_count = EXCLUDED.token_count,
				overlap_length = EXCLUDED.overlap_length,
				embedding = EXCLUDED.embedding
		`,
			doc.ID, rec.Chunk.ChunkID, doc.ProceedingID, string(doc.DocumentType), level, partyKeys, parties,
			doc.CanonicalCitation, doc.Title, rec.Chunk.Content, rec.Chunk.PageNumber, rec.Chunk.ParagraphNumber,
			citations, rec.Chunk.TokenCount, rec.Chunk.OverlapLength, pgvector.NewVector(rec.Embedding),
		)
	}

	br := s.db.SendBatch(ctx, batch)
	for _, rec := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert chunk %d of %s: %w", rec.Chunk.ChunkID, doc.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close chunk batch: %w", err)
	}
	return nil
}

const chunkSelect = `c.chunk_id, c.content, c.page_number, COALESCE(c.paragraph_number, ''),
	c.regulatory_citations, c.token_count, c.overlap_length`

// ChunkWindow returns chunks first..last of a document in chunk order.
func (s *Store) ChunkWindow(ctx context.Context, documentID string, first, last int) ([]document.Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+chunkSelect+`
		FROM hearing_chunks c
		WHERE c.document_id = $1 AND c.chunk_id BETWEEN $2 AND $3
		ORDER BY c.chunk_id
	`, documentID, first, last)
	if err != nil {
		return nil, classify("chunk window", err)
	}
	return collectChunks(rows)
}

// DocumentChunks returns every chunk of a document in chunk order.
func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+chunkSelect+`
		FROM hearing_chunks c
		WHERE c.document_id = $1
		ORDER BY c.chunk_id
	`, documentID)
	if err != nil {
		return nil, classify("document chunks", err)
	}
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]document.Chunk, error) {
	defer rows.Close()
	var out []document.Chunk
	for rows.Next() {
		var c document.Chunk
		if err := rows.Scan(&c.ChunkID, &c.Content, &c.PageNumber, &c.ParagraphNumber, &c.RegulatoryCitations, &c.TokenCount, &c.OverlapLength); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read chunks", err)
	}
	return out, nil
}
