// Package cache holds the hub's per-session snapshot of the latest
// sequence document, so reconnecting clients get current state without
// a database round trip. The Redis implementation allows several hub
// instances to share one view.
package cache

import (
	"context"

	"github.com/cadencehq/cadence/internal/domain"
)

// SequenceCache stores the latest sequence document per session.
// Get returns (nil, nil) when no document is cached.
type SequenceCache interface {
	Get(ctx context.Context, sessionID string) (*domain.SequenceDocument, error)
	Put(ctx context.Context, sessionID string, doc *domain.SequenceDocument) error
	Clear(ctx context.Context, sessionID string) error
}
