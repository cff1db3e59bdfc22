package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabfab/hearings-ai/document"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, proceeding_id, document_type, confidentiality_level, parties,
	COALESCE(abaer_citation, ''), COALESCE(title, ''), processing_status, regulatory_citations,
	COALESCE(source_url, ''), COALESCE(filename, ''), COALESCE(sha256, ''),
	page_count, chunk_count, volume_number, COALESCE(failure_reason, ''), uploaded_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (document.Metadata, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM hearing_documents WHERE id = $1`, id)
	meta, err := scanMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Metadata{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return document.Metadata{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return meta, nil
}

func (s *PostgresStore) Put(ctx context.Context, meta document.Metadata) error {
	parties := meta.Parties
	if parties == nil {
		parties = []document.Party{}
	}
	partiesJSON, err := json.Marshal(parties)
	if err != nil {
		return fmt.Errorf("encode parties: %w", err)
	}
	citations := meta.RegulatoryCitations
	if citations == nil {
		citations = []string{}
	}
	uploaded := meta.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO hearing_documents (
			id, proceeding_id, document_type, confidentiality_level, parties, abaer_citation, title,
			processing_status, regulatory_citations, source_url, filename, sha256, page_count,
			chunk_count, volume_number, failure_reason, uploaded_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $15, NULLIF($16, ''), $17, NOW())
		ON CONFLICT (id) DO UPDATE SET
			proceeding_id = EXCLUDED.proceeding_id,
			document_type = EXCLUDED.document_type,
			confidentiality_level = EXCLUDED.confidentiality_level,
			parties = EXCLUDED.parties,
			abaer_citation = EXCLUDED.abaer_citation,
			title = EXCLUDED.title,
			processing_status = EXCLUDED.processing_status,
			regulatory_citations = EXCLUDED.regulatory_citations,
			source_url = EXCLUDED.source_url,
			filename = EXCLUDED.filename,
			sha256 = EXCLUDED.sha256,
			page_count = EXCLUDED.page_count,
			chunk_count = EXCLUDED.chunk_count,
			volume_number = EXCLUDED.volume_number,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = NOW()
	`,
		meta.ID, meta.ProceedingID, string(meta.DocumentType), string(meta.ConfidentialityLevel), partiesJSON,
		meta.CanonicalCitation, meta.Title, string(meta.Status), citations, meta.SourceURL, meta.Filename,
		meta.SHA256, meta.PageCount, meta.ChunkCount, meta.VolumeNumber, meta.FailureReason, uploaded,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", meta.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status document.ProcessingStatus, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE hearing_documents
		SET processing_status = $2, failure_reason = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListByProceeding(ctx context.Context, proceedingID string) ([]document.Metadata, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM hearing_documents WHERE proceeding_id = $1 ORDER BY uploaded_at, id`, proceedingID)
	if err != nil {
		return nil, fmt.Errorf("list proceeding %s: %w", proceedingID, err)
	}
	defer rows.Close()

	var out []document.Metadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanMetadata(row pgx.Row) (document.Metadata, error) {
	var (
		meta        document.Metadata
		docType     string
		level       string
		status      string
		partiesJSON []byte
		pageCount   *int32
		chunkCount  *int32
		volume      *int32
	)
	err := row.Scan(
		&meta.ID, &meta.ProceedingID, &docType, &level, &partiesJSON,
		&meta.CanonicalCitation, &meta.Title, &status, &meta.RegulatoryCitations,
		&meta.SourceURL, &meta.Filename, &meta.SHA256,
		&pageCount, &chunkCount, &volume, &meta.FailureReason, &meta.UploadedAt, &meta.UpdatedAt,
	)
	if err != nil {
		return document.Metadata{}, err
	}
	meta.DocumentType = document.DocumentType(docType)
	meta.ConfidentialityLevel = document.StoredLevel(level)
	meta.Status = document.ProcessingStatus(status)
	if len(partiesJSON) > 0 {
		if err := json.Unmarshal(partiesJSON, &meta.Parties); err != nil {
			return document.Metadata{}, fmt.Errorf("decode parties of %s: %w", meta.ID, err)
		}
	}
	meta.PageCount = intValue(pageCount)
	meta.ChunkCount = intValue(chunkCount)
	meta.VolumeNumber = intValue(volume)
	return meta, nil
}

func intValue(v *int32) int {
	if v == nil {
		return 0
	}
	return int(*v)
}
