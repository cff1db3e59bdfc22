package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const maxIndexedDimension = 2000

// EnsureSchema creates the document and chunk tables. dimension must match the
// configured embedding model.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS hearing_documents (
			id TEXT PRIMARY KEY,
			proceeding_id TEXT NOT NULL,
			document_type TEXT NOT NULL,
			confidentiality_level TEXT NOT NULL,
			parties JSONB NOT NULL DEFAULT '[]',
			abaer_citation TEXT,
			title TEXT,
			processing_status TEXT NOT NULL DEFAULT 'pending',
			regulatory_citations TEXT[] NOT NULL DEFAULT '{}',
			source_url TEXT,
			filename TEXT,
			sha256 TEXT,
			page_count INT,
			chunk_count INT,
			volume_number INT,
			failure_reason TEXT,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS hearing_chunks (
			document_id TEXT NOT NULL REFERENCES hearing_documents(id) ON DELETE CASCADE,
			chunk_id INT NOT NULL,
			proceeding_id TEXT NOT NULL,
			document_type TEXT NOT NULL,
			confidentiality_level TEXT NOT NULL,
			party_keys TEXT[] NOT NULL DEFAULT '{}',
			parties TEXT[] NOT NULL DEFAULT '{}',
			abaer_citation TEXT,
			title TEXT,
			content TEXT NOT NULL,
			page_number INT NOT NULL,
			paragraph_number TEXT,
			regulatory_citations TEXT[] NOT NULL DEFAULT '{}',
			token_count INT NOT NULL,
			overlap_length INT NOT NULL DEFAULT 0,
			content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (document_id, chunk_id)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_hearing_documents_proceeding ON hearing_documents(proceeding_id)",
		"CREATE INDEX IF NOT EXISTS idx_hearing_chunks_level ON hearing_chunks(confidentiality_level)",
		"CREATE INDEX IF NOT EXISTS idx_hearing_chunks_party_keys ON hearing_chunks USING GIN (party_keys)",
		"CREATE INDEX IF NOT EXISTS idx_hearing_chunks_tsv ON hearing_chunks USING GIN (content_tsv)",
	}
	// pgvector cannot index vectors wider than 2000 dimensions; wider
	// embeddings are searched exactly.
	if dimension <= maxIndexedDimension {
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS idx_hearing_chunks_embedding ON hearing_chunks USING hnsw (embedding vector_cosine_ops)")
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// Clear removes every document and chunk.
func Clear(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE hearing_chunks, hearing_documents"); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}
