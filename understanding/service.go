// Package understanding analyses a single hearing document: summary, key
// points, named entities and regulatory citations.
package understanding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/knowledge"
	"github.com/fabfab/hearings-ai/llm"
	"github.com/fabfab/hearings-ai/logger"
	"github.com/fabfab/hearings-ai/metadata"
	"github.com/fabfab/hearings-ai/search"
)

const (
	defaultMaxContextChars = 24000
	relatedLimit           = 10
)

var (
	// ErrNotIndexed is returned for visible documents without indexed text.
	ErrNotIndexed = errors.New("document has no indexed text")
	// ErrLLMUnavailable is returned when a generative operation is requested
	// but no model is configured.
	ErrLLMUnavailable = errors.New("language model is not configured")
)

type Operation string

const (
	OpSummarize                  Operation = "summarize"
	OpExtractKeyPoints           Operation = "extractKeyPoints"
	OpExtractEntities            Operation = "extractEntities"
	OpExtractRegulatoryCitations Operation = "extractRegulatoryCitations"
)

func (o Operation) Valid() bool {
	switch o {
	case OpSummarize, OpExtractKeyPoints, OpExtractEntities, OpExtractRegulatoryCitations:
		return true
	}
	return false
}

func (o Operation) generative() bool {
	return o != OpExtractRegulatoryCitations
}

type Request struct {
	DocumentID string      `json:"document_id"`
	Operations []Operation `json:"operations"`
}

// Validate trims the document id and removes duplicate operations.
func (r *Request) Validate() error {
	r.DocumentID = strings.TrimSpace(r.DocumentID)
	if r.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required", search.ErrInvalidRequest)
	}
	if len(r.Operations) == 0 {
		return fmt.Errorf("%w: at least one operation is required", search.ErrInvalidRequest)
	}
	seen := make(map[Operation]bool, len(r.Operations))
	ops := r.Operations[:0]
	for _, op := range r.Operations {
		if !op.Valid() {
			return fmt.Errorf("%w: unknown operation %q", search.ErrInvalidRequest, op)
		}
		if !seen[op] {
			seen[op] = true
			ops = append(ops, op)
		}
	}
	r.Operations = ops
	return nil
}

type Entities struct {
	Locations       []string `json:"locations"`
	Organizations   []string `json:"organizations"`
	WellIdentifiers []string `json:"well_identifiers"`
	Dates           []string `json:"dates"`
	Regulations     []string `json:"regulations"`
}

type Response struct {
	DocumentID          string                        `json:"document_id"`
	Summary             string                        `json:"summary,omitempty"`
	KeyPoints           []string                      `json:"key_points,omitempty"`
	Entities            *Entities                     `json:"entities,omitempty"`
	RegulatoryCitations []ingestion.ExtractedCitation `json:"regulatory_citations,omitempty"`
	RelatedDocuments    []knowledge.Related           `json:"related_documents,omitempty"`
}

type DocumentStore interface {
	Get(ctx context.Context, id string) (document.Metadata, error)
}

type ChunkSource interface {
	DocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error)
}

// RelatedFinder looks up documents sharing citations.
type RelatedFinder interface {
	RelatedByCitation(ctx context.Context, documentID string, limit int) ([]knowledge.Related, error)
}

type Deps struct {
	Documents DocumentStore
	Chunks    ChunkSource
	LLM       llm.Client
	Citations *ingestion.CitationExtractor
	Related   RelatedFinder
	Policy    *access.Policy
	Logger    *logger.Logger
}

type Options struct {
	// MaxContextChars bounds the document text handed to the model.
	MaxContextChars int
}

type Service struct {
	docs      DocumentStore
	chunks    ChunkSource
	llm       llm.Client
	citations *ingestion.CitationExtractor
	related   RelatedFinder
	policy    *access.Policy
	logger    *logger.Logger
	maxChars  int
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Documents == nil || deps.Chunks == nil {
		return nil, fmt.Errorf("understanding needs a document store and a chunk source")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("understanding needs an access policy")
	}
	if deps.Citations == nil {
		deps.Citations = ingestion.MustCitationExtractor(ingestion.DefaultCitationPatterns)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = defaultMaxContextChars
	}
	return &Service{
		docs:      deps.Documents,
		chunks:    deps.Chunks,
		llm:       deps.LLM,
		citations: deps.Citations,
		related:   deps.Related,
		policy:    deps.Policy,
		logger:    deps.Logger.With("component", "understanding"),
		maxChars:  opts.MaxContextChars,
	}, nil
}

// Analyze runs the requested operations. Access is checked before any
// document text is read; missing and forbidden documents are reported alike.
func (s *Service) Analyze(ctx context.Context, req Request, claims access.Claims) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	meta, err := s.docs.Get(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return Response{}, fmt.Errorf("document %s: %w", req.DocumentID, search.ErrDocumentUnavailable)
		}
		return Response{}, fmt.Errorf("load document: %w", err)
	}
	if err := s.policy.Require(claims, meta); err != nil {
		s.logger.Warn("understanding denied", "document_id", meta.ID, "subject", claims.Subject)
		return Response{}, fmt.Errorf("document %s: %w", req.DocumentID, search.ErrDocumentUnavailable)
	}

	for _, op := range req.Operations {
		if op.generative() && s.llm == nil {
			return Response{}, ErrLLMUnavailable
		}
	}

	chunks, err := s.chunks.DocumentChunks(ctx, meta.ID)
	if err != nil {
		return Response{}, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return Response{}, fmt.Errorf("document %s: %w", meta.ID, ErrNotIndexed)
	}
	text := documentText(chunks)

	resp := Response{DocumentID: meta.ID}
	g, gctx := errgroup.WithContext(ctx)
	for _, op := range req.Operations {
		switch op {
		case OpSummarize:
			g.Go(func() error {
				summary, err := s.summarize(gctx, meta, text)
				resp.Summary = summary
				return err
			})
		case OpExtractKeyPoints:
			g.Go(func() error {
				points, err := s.keyPoints(gctx, meta, text)
				resp.KeyPoints = points
				return err
			})
		case OpExtractEntities:
			g.Go(func() error {
				entities, err := s.entities(gctx, meta, text)
				resp.Entities = entities
				return err
			})
		case OpExtractRegulatoryCitations:
			g.Go(func() error {
				resp.RegulatoryCitations = s.citations.ExtractWithParagraphs(text)
				resp.RelatedDocuments = s.visibleRelated(gctx, meta.ID, claims)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}
	s.logger.Info("document analysed", "document_id", meta.ID, "operations", len(req.Operations))
	return resp, nil
}

// visibleRelated returns graph neighbours the caller may see. Graph failures
// degrade to no related documents.
func (s *Service) visibleRelated(ctx context.Context, documentID string, claims access.Claims) []knowledge.Related {
	if s.related == nil {
		return nil
	}
	related, err := s.related.RelatedByCitation(ctx, documentID, relatedLimit)
	if err != nil {
		s.logger.Warn("related documents lookup failed", "document_id", documentID, "error", err)
		return nil
	}
	var visible []knowledge.Related
	for _, r := range related {
		meta, err := s.docs.Get(ctx, r.DocumentID)
		if err != nil {
			continue
		}
		if s.policy.CanAccess(claims, meta) {
			if r.Title == "" {
				r.Title = search.DisplayTitle(meta)
			}
			visible = append(visible, r)
		}
	}
	return visible
}

// documentText joins the non-overlapping part of each chunk. The fresh part of
// an overlapped chunk starts with its own separator.
func documentText(chunks []document.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 && c.OverlapLength == 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Fresh())
	}
	return b.String()
}
