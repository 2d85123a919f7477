package syncengine

import (
	"context"
	"encoding/json"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
)

// API is the network capability the engine consumes. The production
// implementation is *api.Client; tests use a scripted in-memory fake.
// Errors are classified with the api package's taxonomy helpers
// (IsRateLimit, IsTransient, IsNotFound).
type API interface {
	// Health is the cheapest possible probe of the server.
	Health(ctx context.Context) error

	// Changes fetches one change-feed page after the cursor.
	Changes(ctx context.Context, since int64, limit int) (*model.ChangeFeedPage, error)

	// LatestCursor returns the server's current feed high-water mark.
	LatestCursor(ctx context.Context) (int64, error)

	// List fetches one page of a kind's full collection (bootstrap).
	List(ctx context.Context, kind model.EntityKind, offset, limit int) (items []json.RawMessage, hasMore bool, err error)

	// Create submits one create with its idempotency token.
	Create(ctx context.Context, kind model.EntityKind, payload json.RawMessage, idempotencyToken string) error

	// CreateEventsBatch submits multiple event creates at once.
	CreateEventsBatch(ctx context.Context, payloads []json.RawMessage, idempotencyToken string) (*api.BatchCreateEventsResponse, error)

	// Update submits a partial update.
	Update(ctx context.Context, kind model.EntityKind, entityID string, payload json.RawMessage) error

	// Delete removes an entity on the server.
	Delete(ctx context.Context, kind model.EntityKind, entityID string) error
}

// compile-time check that the production client satisfies the
// capability.
var _ API = (*api.Client)(nil)
