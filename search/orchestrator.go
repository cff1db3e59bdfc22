// Package search answers hearing document queries. It conjoins the caller's
// filters with the access predicate, delegates retrieval to a Backend and
// formats hits with citations and snippets.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/embeddings"
	"github.com/fabfab/hearings-ai/filter"
	"github.com/fabfab/hearings-ai/logger"
	"github.com/fabfab/hearings-ai/metadata"
)

const (
	defaultTop      = 10
	maxTop          = 50
	minQueryLength  = 3
	maxQueryLength  = 1000
	defaultTimeout  = 10 * time.Second
	defaultWindow   = 2
	maxWindowLength = 5
)

// DocumentStore is the metadata the orchestrator reads for access checks.
type DocumentStore interface {
	Get(ctx context.Context, id string) (document.Metadata, error)
	ListByProceeding(ctx context.Context, proceedingID string) ([]document.Metadata, error)
}

// ChunkReader loads a contiguous run of chunks of one document.
type ChunkReader interface {
	ChunkWindow(ctx context.Context, documentID string, first, last int) ([]document.Chunk, error)
}

type Deps struct {
	Backend   Backend
	Embedder  embeddings.Embedder
	Policy    *access.Policy
	Documents DocumentStore
	Chunks    ChunkReader
	Logger    *logger.Logger
}

type Options struct {
	Timeout       time.Duration
	SnippetLength int
}

type Orchestrator struct {
	backend   Backend
	embedder  embeddings.Embedder
	policy    *access.Policy
	documents DocumentStore
	chunks    ChunkReader
	logger    *logger.Logger
	opts      Options
}

func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("retrieval backend not configured")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("access policy not configured")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = DefaultSnippetLength
	}
	return &Orchestrator{
		backend:   deps.Backend,
		embedder:  deps.Embedder,
		policy:    deps.Policy,
		documents: deps.Documents,
		chunks:    deps.Chunks,
		logger:    deps.Logger.With("component", "search"),
		opts:      opts,
	}, nil
}

// Filters are the caller-supplied restrictions. Values within one list are
// alternatives; lists are conjoined.
type Filters struct {
	DocumentTypes       []document.DocumentType `json:"document_types,omitempty"`
	Parties             []string                `json:"parties,omitempty"`
	RegulatoryCitations []string                `json:"regulatory_citations,omitempty"`
}

type Request struct {
	Query        string   `json:"query"`
	ProceedingID string   `json:"proceeding_id,omitempty"`
	Filters      *Filters `json:"filters,omitempty"`
	Top          int      `json:"top,omitempty"`
	Mode         Mode     `json:"search_mode,omitempty"`
}

type Result struct {
	DocumentID          string   `json:"document_id"`
	ChunkID             int      `json:"chunk_id"`
	Title               string   `json:"title"`
	CanonicalCitation   string   `json:"abaer_citation,omitempty"`
	Snippet             string   `json:"snippet"`
	RelevanceScore      float64  `json:"relevance_score"`
	PageNumber          int      `json:"page_number"`
	ParagraphNumber     string   `json:"paragraph_number,omitempty"`
	CitationRef         string   `json:"citation_ref"`
	Parties             []string `json:"parties"`
	RegulatoryCitations []string `json:"regulatory_citations"`
}

type Response struct {
	Results    []Result `json:"results"`
	TotalCount int      `json:"total_count"`
	// TotalCountApproximate is set when TotalCount is the page size rather
	// than a backend count.
	TotalCountApproximate bool                    `json:"total_count_approximate"`
	Facets                map[string][]FacetValue `json:"facets"`
}

// Validate normalises defaults and rejects malformed requests.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	n := utf8.RuneCountInString(r.Query)
	if n < minQueryLength || n > maxQueryLength {
		return fmt.Errorf("%w: query must be %d to %d characters", ErrInvalidRequest, minQueryLength, maxQueryLength)
	}
	if r.Top == 0 {
		r.Top = defaultTop
	}
	if r.Top < 1 || r.Top > maxTop {
		return fmt.Errorf("%w: top must be between 1 and %d", ErrInvalidRequest, maxTop)
	}
	if r.Mode == "" {
		r.Mode = ModeHybrid
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown search mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Filters != nil {
		for _, t := range r.Filters.DocumentTypes {
			if !t.Valid() {
				return fmt.Errorf("%w: unknown document type %q", ErrInvalidRequest, t)
			}
		}
	}
	return nil
}

// UserFilter turns the caller's restrictions into a filter expression.
func (r Request) UserFilter() filter.Expr {
	var terms []filter.Expr
	if id := strings.TrimSpace(r.ProceedingID); id != "" {
		terms = append(terms, filter.Eq{Field: filter.FieldProceedingID, Value: id})
	}
	if f := r.Filters; f != nil {
		if len(f.DocumentTypes) > 0 {
			types := make([]string, len(f.DocumentTypes))
			for i, t := range f.DocumentTypes {
				types[i] = string(t)
			}
			terms = append(terms, filter.AnyValue(filter.FieldDocumentType, types...))
		}
		if parties := nonBlank(f.Parties); len(parties) > 0 {
			terms = append(terms, filter.ContainsAny(filter.FieldParties, parties...))
		}
		if cites := nonBlank(f.RegulatoryCitations); len(cites) > 0 {
			terms = append(terms, filter.ContainsAny(filter.FieldRegulatoryCitations, cites...))
		}
	}
	return filter.AllOf(terms...)
}

// Search runs req for claims. The access predicate is always part of the
// backend filter. Backend timeouts surface as errors, never as empty results.
func (o *Orchestrator) Search(ctx context.Context, req Request, claims access.Claims) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	started := time.Now()

	q := BackendQuery{
		Filter: filter.AllOf(o.policy.FilterPredicate(claims), req.UserFilter()),
		Top:    req.Top,
		Facets: DefaultFacets,
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	if req.Mode != ModeVector {
		q.Text = req.Query
	}
	if req.Mode != ModeKeyword {
		if o.embedder == nil {
			return Response{}, fmt.Errorf("%s search needs an embedder", req.Mode)
		}
		vector, err := embeddings.EmbedQuery(ctx, o.embedder, req.Query)
		if err != nil {
			return Response{}, classify("embed query", err)
		}
		q.Vector = vector
	}

	result, err := o.backend.Search(ctx, q)
	if err != nil {
		err = classify("search", err)
		o.logger.Warn("search failed", "mode", req.Mode, "error", err)
		return Response{}, err
	}

	resp := Response{
		Results: make([]Result, 0, len(result.Hits)),
		Facets:  make(map[string][]FacetValue, len(result.Facets)),
	}
	for _, hit := range result.Hits {
		if !o.policy.CanAccess(claims, hit.Document) {
			o.logger.Error("backend returned a hit outside the access filter", "document_id", hit.Document.ID)
			continue
		}
		resp.Results = append(resp.Results, o.toResult(hit))
	}
	for field, values := range result.Facets {
		resp.Facets[string(field)] = values
	}
	if result.Exact {
		resp.TotalCount = result.TotalCount
	} else {
		resp.TotalCount = len(resp.Results)
		resp.TotalCountApproximate = true
	}

	o.logger.Debug("search complete", "mode", req.Mode, "results", len(resp.Results), "duration", time.Since(started))
	return resp, nil
}

func (o *Orchestrator) toResult(hit Hit) Result {
	page := hit.Chunk.PageNumber
	if page < 1 {
		page = 1
	}
	parties := hit.Document.PartyNames()
	if parties == nil {
		parties = []string{}
	}
	cites := hit.Chunk.RegulatoryCitations
	if cites == nil {
		cites = []string{}
	}
	return Result{
		DocumentID:          hit.Document.ID,
		ChunkID:             hit.Chunk.ChunkID,
		Title:               DisplayTitle(hit.Document),
		CanonicalCitation:   hit.Document.CanonicalCitation,
		Snippet:             Snippet(hit.Chunk.Content, o.opts.SnippetLength),
		RelevanceScore:      hit.Score,
		PageNumber:          page,
		ParagraphNumber:     hit.Chunk.ParagraphNumber,
		CitationRef:         FormatCitationRef(hit.Document.ProceedingID, hit.Document.DocumentType, page, hit.Chunk.ParagraphNumber, hit.Document.CanonicalCitation),
		Parties:             parties,
		RegulatoryCitations: cites,
	}
}

// visibleDocument loads a document and checks access. Missing and forbidden
// documents produce the same error.
func (o *Orchestrator) visibleDocument(ctx context.Context, id string, claims access.Claims) (document.Metadata, error) {
	if o.documents == nil {
		return document.Metadata{}, fmt.Errorf("document store not configured")
	}
	meta, err := o.documents.Get(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return document.Metadata{}, ErrDocumentUnavailable
		}
		return document.Metadata{}, fmt.Errorf("load document %s: %w", id, err)
	}
	if err := o.policy.Require(claims, meta); err != nil {
		o.logger.Info("document access denied", "document_id", id, "subject", claims.Subject)
		return document.Metadata{}, ErrDocumentUnavailable
	}
	return meta, nil
}

// Document returns the metadata of a document the caller may see.
func (o *Orchestrator) Document(ctx context.Context, id string, claims access.Claims) (document.Metadata, error) {
	return o.visibleDocument(ctx, id, claims)
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
