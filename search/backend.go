package search

import (
	"context"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
)

// Mode selects how the query is represented to the backend.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeHybrid, ModeVector, ModeKeyword:
		return true
	}
	return false
}

// FacetSpec asks the backend for the Count most frequent values of Field.
type FacetSpec struct {
	Field filter.Field
	Count int
}

// DefaultFacets are requested with every search.
var DefaultFacets = []FacetSpec{
	{Field: filter.FieldDocumentType, Count: 10},
	{Field: filter.FieldProceedingID, Count: 20},
	{Field: filter.FieldParties, Count: 20},
	{Field: filter.FieldRegulatoryCitations, Count: 20},
}

// BackendQuery is what the orchestrator hands to a retrieval backend. Text is
// empty in vector mode and Vector is nil in keyword mode. Filter always carries
// the access predicate.
type BackendQuery struct {
	Text   string
	Vector []float32
	Filter filter.Expr
	Top    int
	Facets []FacetSpec
}

// Hit is one ranked chunk together with the denormalised document fields the
// index stores next to it.
type Hit struct {
	Document document.Metadata
	Chunk    document.Chunk
	Score    float64
}

type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type BackendResult struct {
	Hits   []Hit
	Facets map[filter.Field][]FacetValue
	// TotalCount is the number of matching chunks when Exact is set.
	TotalCount int
	Exact      bool
}

// Backend executes filtered retrieval. Implementations render the filter
// themselves and must report failures as *BackendError where they can tell
// timeouts from transient and terminal errors.
type Backend interface {
	Search(ctx context.Context, q BackendQuery) (BackendResult, error)
}
