// Package store implements the storage capability of the sync engine:
// the local entity cache, the durable mutation outbox, and the change
// feed cursor. The entity cache and outbox share one SQLite file so a
// local write and its outbox record commit in the same transaction; the
// cursor lives in a separate key-value file.
package store

import (
	"context"
	"encoding/json"

	"github.com/erauner12/trendy-sync/internal/model"
)

// EntityRecord is one locally cached entity of any kind. Data is the
// server wire representation; Status distinguishes confirmed records
// from ones with unconfirmed local changes.
type EntityRecord struct {
	Kind     model.EntityKind
	EntityID string
	Data     json.RawMessage
	Status   model.SyncStatus
}

// RemoteOp is one resolved change-feed effect: an upsert when Data is
// set, a hard delete when Delete is true. A page of RemoteOps is
// applied in a single transaction.
type RemoteOp struct {
	Kind     model.EntityKind
	EntityID string
	Data     json.RawMessage
	Delete   bool
}

// Store is a short-lived handle over the local cache and outbox. The
// underlying resource is not assumed shareable across tasks, so the
// engine obtains a fresh handle from a Factory for each discrete
// operation and closes it when done.
type Store interface {
	// Entity cache.
	UpsertEntity(ctx context.Context, rec EntityRecord) error
	GetEntity(ctx context.Context, kind model.EntityKind, entityID string) (*EntityRecord, error)
	DeleteEntity(ctx context.Context, kind model.EntityKind, entityID string) error
	SetEntityStatus(ctx context.Context, kind model.EntityKind, entityID string, status model.SyncStatus) error

	// WipeEntities removes every cached entity but leaves the outbox
	// intact. Used by bootstrap's destructive reset.
	WipeEntities(ctx context.Context) error

	// ApplyRemoteOps applies one fully-resolved change-feed page
	// atomically.
	ApplyRemoteOps(ctx context.Context, ops []RemoteOp) error

	// Mutation outbox.
	InsertMutation(ctx context.Context, m *model.PendingMutation) error
	PendingMutations(ctx context.Context) ([]model.PendingMutation, error)
	FailedMutations(ctx context.Context) ([]model.PendingMutation, error)
	DeleteMutation(ctx context.Context, id int64) error
	RecordMutationFailure(ctx context.Context, id int64, message string) (attempts int, err error)
	MarkMutationFailed(ctx context.Context, id int64) error
	MutationCounts(ctx context.Context) (pending, failed int, err error)

	// HasPendingDelete reports whether a not-yet-synced local delete
	// exists for the entity. The resolver uses this to refuse
	// resurrection by stale remote changes.
	HasPendingDelete(ctx context.Context, kind model.EntityKind, entityID string) (bool, error)

	// ApplyLocalWrite commits a local record change and its outbox
	// entry in one transaction. rec is nil for deletes.
	ApplyLocalWrite(ctx context.Context, rec *EntityRecord, m *model.PendingMutation) error

	Close() error
}

// Factory manufactures a fresh Store handle per logical operation,
// bounding the lifetime of any non-shareable underlying resource to a
// single flush pass, pull page, or bootstrap stage.
type Factory func(ctx context.Context) (Store, error)

// CursorStore persists the change feed cursor: a monotonic watermark
// marking the last server change incorporated locally. It never
// decreases except via Reset.
type CursorStore interface {
	Cursor() (int64, error)
	SetCursor(v int64) error
	Reset() error
}
