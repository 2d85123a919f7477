package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncStatus marks a local record's relationship to the server copy.
type SyncStatus string

const (
	// SyncStatusPending marks a record with local changes not yet
	// confirmed by the server.
	SyncStatusPending SyncStatus = "pending"

	// SyncStatusSynced marks a record whose local state mirrors the
	// server.
	SyncStatusSynced SyncStatus = "synced"

	// SyncStatusFailed marks a record whose mutation was permanently
	// rejected; surfaced so the UI can prompt the user.
	SyncStatusFailed SyncStatus = "failed"
)

// MaxMutationAttempts is the number of delivery attempts a mutation
// gets before it is marked permanently failed. Failed mutations are
// surfaced, never silently dropped.
const MaxMutationAttempts = 5

// PendingMutation is one durable outbox record: a local write that the
// server has not yet confirmed. It is created in the same transaction
// as the local record change and deleted only on server confirmation.
type PendingMutation struct {
	ID               int64           `json:"id"`
	IdempotencyToken string          `json:"idempotency_token"`
	EntityKind       EntityKind      `json:"entity_kind"`
	Operation        Operation       `json:"operation"`
	EntityID         string          `json:"entity_id"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Attempts         int             `json:"attempts"`
	LastError        string          `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty"`
	Failed           bool            `json:"failed"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Retryable reports whether the mutation may be attempted again.
func (m *PendingMutation) Retryable() bool {
	return !m.Failed && m.Attempts < MaxMutationAttempts
}

// NewEntityID mints a client-generated, time-ordered unique identifier
// for a new entity. Creates carry their own ID so they are
// self-describing and idempotent by construction.
func NewEntityID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}

// NewIdempotencyToken mints the deduplication key attached to a create
// request. Generated once when the mutation is enqueued and never
// changed, so server-side retries after a dropped response cannot
// double-apply.
func NewIdempotencyToken() string {
	return uuid.New().String()
}
