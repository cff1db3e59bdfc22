package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/document"
)

type EvidenceRequest struct {
	DocumentID string `json:"document_id"`
	ChunkID    int    `json:"chunk_id"`
	// ContextWindow is the number of chunks on each side of the target.
	// Nil means the default of 2.
	ContextWindow *int `json:"context_window,omitempty"`
}

type EvidenceChunk struct {
	ChunkID         int    `json:"chunk_id"`
	PageNumber      int    `json:"page_number"`
	ParagraphNumber string `json:"paragraph_number,omitempty"`
	Content         string `json:"content"`
	IsTarget        bool   `json:"is_target"`
}

type EvidenceResponse struct {
	Document     DocumentSummary `json:"document"`
	ProceedingID string          `json:"proceeding_id"`
	CitationRef  string          `json:"citation_ref"`
	Chunks       []EvidenceChunk `json:"chunks"`
	PageRange    string          `json:"page_range"`
	SourceURL    string          `json:"source_url,omitempty"`
}

func (r *EvidenceRequest) window() (int, error) {
	if strings.TrimSpace(r.DocumentID) == "" {
		return 0, fmt.Errorf("%w: document_id is required", ErrInvalidRequest)
	}
	if r.ChunkID < 0 {
		return 0, fmt.Errorf("%w: chunk_id must not be negative", ErrInvalidRequest)
	}
	if r.ContextWindow == nil {
		return defaultWindow, nil
	}
	w := *r.ContextWindow
	if w < 0 || w > maxWindowLength {
		return 0, fmt.Errorf("%w: context_window must be between 0 and %d", ErrInvalidRequest, maxWindowLength)
	}
	return w, nil
}

// Evidence returns a chunk with its neighbours after checking the caller may
// see the document.
func (o *Orchestrator) Evidence(ctx context.Context, req EvidenceRequest, claims access.Claims) (EvidenceResponse, error) {
	w, err := req.window()
	if err != nil {
		return EvidenceResponse{}, err
	}
	meta, err := o.visibleDocument(ctx, req.DocumentID, claims)
	if err != nil {
		return EvidenceResponse{}, err
	}
	if o.chunks == nil {
		return EvidenceResponse{}, fmt.Errorf("chunk reader not configured")
	}

	chunks, err := o.chunks.ChunkWindow(ctx, meta.ID, max(0, req.ChunkID-w), req.ChunkID+w)
	if err != nil {
		return EvidenceResponse{}, classify("chunk window", err)
	}

	resp := EvidenceResponse{
		Document:     summarize(meta),
		ProceedingID: meta.ProceedingID,
		Chunks:       make([]EvidenceChunk, 0, len(chunks)),
		SourceURL:    meta.SourceURL,
	}
	var (
		target    *document.Chunk
		firstPage int
		lastPage  int
	)
	for i := range chunks {
		c := chunks[i]
		isTarget := c.ChunkID == req.ChunkID
		if isTarget {
			target = &chunks[i]
		}
		if firstPage == 0 || c.PageNumber < firstPage {
			firstPage = c.PageNumber
		}
		lastPage = max(lastPage, c.PageNumber)
		resp.Chunks = append(resp.Chunks, EvidenceChunk{
			ChunkID:         c.ChunkID,
			PageNumber:      c.PageNumber,
			ParagraphNumber: c.ParagraphNumber,
			Content:         c.Content,
			IsTarget:        isTarget,
		})
	}
	if target == nil {
		return EvidenceResponse{}, fmt.Errorf("%w: chunk %d of document %s", ErrDocumentUnavailable, req.ChunkID, meta.ID)
	}

	resp.CitationRef = FormatCitationRef(meta.ProceedingID, meta.DocumentType, target.PageNumber, target.ParagraphNumber, meta.CanonicalCitation)
	resp.PageRange = pageRange(firstPage, lastPage)
	return resp, nil
}

func pageRange(first, last int) string {
	if first == last {
		return fmt.Sprintf("p.%d", first)
	}
	return fmt.Sprintf("p.%d–%d", first, last)
}
