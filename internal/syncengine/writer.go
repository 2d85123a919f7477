package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/rs/zerolog"
)

// Writer is the local write API. Every create/update/delete commits the
// record change and its outbox entry in one transaction before
// returning, so the caller can never observe a write that is not
// queued for sync.
type Writer struct {
	stores store.Factory
	logger zerolog.Logger
}

// NewWriter creates a Writer over the given store factory.
func NewWriter(stores store.Factory, logger zerolog.Logger) *Writer {
	return &Writer{stores: stores, logger: logger}
}

// Create enqueues a create mutation. entityID must be the
// client-generated canonical ID already present in the payload; use the
// typed helpers to get both for free.
func (w *Writer) Create(ctx context.Context, kind model.EntityKind, entityID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s create: %w", kind, err)
	}
	return w.apply(ctx,
		&store.EntityRecord{
			Kind:     kind,
			EntityID: entityID,
			Data:     data,
			Status:   model.SyncStatusPending,
		},
		&model.PendingMutation{
			IdempotencyToken: model.NewIdempotencyToken(),
			EntityKind:       kind,
			Operation:        model.OpCreate,
			EntityID:         entityID,
			Payload:          data,
			CreatedAt:        time.Now().UTC(),
		})
}

// Update enqueues a partial update. The local cache is updated by
// merging the patch over the existing document so reads reflect the
// pending edit immediately.
func (w *Writer) Update(ctx context.Context, kind model.EntityKind, entityID string, patch any) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal %s update: %w", kind, err)
	}

	st, err := w.stores(ctx)
	if err != nil {
		return StorageError{Op: "local update", Err: err}
	}
	defer st.Close()

	existing, err := st.GetEntity(ctx, kind, entityID)
	if err != nil {
		return StorageError{Op: "local update", Err: err}
	}

	local := data
	if existing != nil {
		if merged, err := mergeJSON(existing.Data, data); err == nil {
			local = merged
		}
	}

	return w.applyOn(ctx, st,
		&store.EntityRecord{
			Kind:     kind,
			EntityID: entityID,
			Data:     local,
			Status:   model.SyncStatusPending,
		},
		&model.PendingMutation{
			IdempotencyToken: model.NewIdempotencyToken(),
			EntityKind:       kind,
			Operation:        model.OpUpdate,
			EntityID:         entityID,
			Payload:          data,
			CreatedAt:        time.Now().UTC(),
		})
}

// Delete removes the record locally and enqueues the delete. While the
// mutation is pending, the resolver refuses to resurrect the entity
// from stale remote changes.
func (w *Writer) Delete(ctx context.Context, kind model.EntityKind, entityID string) error {
	return w.apply(ctx, nil, &model.PendingMutation{
		IdempotencyToken: model.NewIdempotencyToken(),
		EntityKind:       kind,
		Operation:        model.OpDelete,
		EntityID:         entityID,
		CreatedAt:        time.Now().UTC(),
	})
}

// CreateEvent records a new event, minting its time-ordered ID if the
// request doesn't carry one. Returns the entity ID.
func (w *Writer) CreateEvent(ctx context.Context, req model.CreateEventRequest) (string, error) {
	if req.ID == "" {
		req.ID = model.NewEntityID()
	}
	return req.ID, w.Create(ctx, model.KindEvent, req.ID, req)
}

// UpdateEvent records a partial edit of an event.
func (w *Writer) UpdateEvent(ctx context.Context, entityID string, req model.UpdateEventRequest) error {
	return w.Update(ctx, model.KindEvent, entityID, req)
}

// DeleteEvent records the removal of an event.
func (w *Writer) DeleteEvent(ctx context.Context, entityID string) error {
	return w.Delete(ctx, model.KindEvent, entityID)
}

// CreateEventType records a new event type.
func (w *Writer) CreateEventType(ctx context.Context, req model.CreateEventTypeRequest) (string, error) {
	if req.ID == "" {
		req.ID = model.NewEntityID()
	}
	return req.ID, w.Create(ctx, model.KindEventType, req.ID, req)
}

// CreateGeofence records a new geofence.
func (w *Writer) CreateGeofence(ctx context.Context, req model.CreateGeofenceRequest) (string, error) {
	if req.ID == "" {
		req.ID = model.NewEntityID()
	}
	return req.ID, w.Create(ctx, model.KindGeofence, req.ID, req)
}

// CreatePropertyDefinition records a new property definition.
func (w *Writer) CreatePropertyDefinition(ctx context.Context, req model.CreatePropertyDefinitionRequest) (string, error) {
	if req.ID == "" {
		req.ID = model.NewEntityID()
	}
	return req.ID, w.Create(ctx, model.KindPropertyDefinition, req.ID, req)
}

func (w *Writer) apply(ctx context.Context, rec *store.EntityRecord, m *model.PendingMutation) error {
	st, err := w.stores(ctx)
	if err != nil {
		return StorageError{Op: "local write", Err: err}
	}
	defer st.Close()
	return w.applyOn(ctx, st, rec, m)
}

func (w *Writer) applyOn(ctx context.Context, st store.Store, rec *store.EntityRecord, m *model.PendingMutation) error {
	if err := st.ApplyLocalWrite(ctx, rec, m); err != nil {
		return StorageError{Op: "local write", Err: err}
	}
	w.logger.Debug().
		Str("kind", string(m.EntityKind)).
		Str("op", string(m.Operation)).
		Str("entityId", m.EntityID).
		Int64("mutationId", m.ID).
		Msg("local write queued")
	return nil
}

// mergeJSON overlays patch fields onto base at the top level. Nulls in
// the patch clear the field, matching the server's partial update
// semantics.
func mergeJSON(base, patch json.RawMessage) (json.RawMessage, error) {
	var b, p map[string]any
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, err
	}
	for k, v := range p {
		if v == nil {
			delete(b, k)
			continue
		}
		b[k] = v
	}
	return json.Marshal(b)
}
