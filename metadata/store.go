// Package metadata persists hearing document metadata. The PostgreSQL store is
// the system of record; CachedStore puts a Redis read-through cache in front of
// any Store.
package metadata

import (
	"context"
	"errors"

	"github.com/fabfab/hearings-ai/document"
)

// ErrNotFound is returned when no document has the requested id.
var ErrNotFound = errors.New("document metadata not found")

type Store interface {
	Get(ctx context.Context, id string) (document.Metadata, error)
	Put(ctx context.Context, meta document.Metadata) error
	SetStatus(ctx context.Context, id string, status document.ProcessingStatus, reason string) error
	ListByProceeding(ctx context.Context, proceedingID string) ([]document.Metadata, error)
}
