package models

import (
	"context"
	"time"
)

// ============================================================================
// Remote Service Contract
//
// The authoritative store the engine converges toward. Implementations must
// return the sentinel signals bare:
//
//   ErrRemoteConflict: version mismatch on Update/Delete, or the target of
//                      a Create already exists
//   ErrRemoteAbsent:   Fetch/Update/Delete named an entity the remote does
//                      not have
//
// Any other error is treated as transport-class and retried with backoff.
// ============================================================================

// RemoteRecord is the server-side representation of one entity.
type RemoteRecord struct {
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Payload    Payload   `json:"payload"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemoteService is the consumed contract of the remote data service.
// Update and Delete carry the caller's base version for the server's
// optimistic concurrency check.
type RemoteService interface {
	Create(ctx context.Context, kind, id string, payload Payload) (*RemoteRecord, error)
	Update(ctx context.Context, kind, id string, payload Payload, baseVersion int64) (*RemoteRecord, error)
	Delete(ctx context.Context, kind, id string, baseVersion int64) error
	Fetch(ctx context.Context, kind, id string) (*RemoteRecord, error)
}
