// Package remote provides the client for the remote sync authority.
//
// The authority assigns monotonic per-entity sync versions and serves
// changed-since feeds per collection. Both operations are idempotent under
// retry, which is what lets the coordinator re-drive failed batches.
package remote

import (
	"context"

	"github.com/jwlin/recallbox/internal/models"
)

// Authority is the remote endpoint the sync coordinator talks to.
type Authority interface {
	// FetchChangedSince returns items of one collection whose remote
	// modification timestamp is strictly greater than since, ordered
	// ascending by that timestamp.
	FetchChangedSince(ctx context.Context, kind models.EntityKind, since int64) ([]models.EntityPayload, error)

	// Upsert writes a batch of items to the collection. Tombstones are
	// uploaded as items with their deleted flag set.
	Upsert(ctx context.Context, kind models.EntityKind, items []models.EntityPayload) error
}
