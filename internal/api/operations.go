package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/erauner12/trendy-sync/internal/model"
)

// kindPaths maps each entity kind to its REST collection path.
var kindPaths = map[model.EntityKind]string{
	model.KindEvent:              "/api/v1/events",
	model.KindEventType:          "/api/v1/event-types",
	model.KindGeofence:           "/api/v1/geofences",
	model.KindPropertyDefinition: "/api/v1/property-definitions",
}

func kindPath(kind model.EntityKind) (string, error) {
	p, ok := kindPaths[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
	return p, nil
}

// Server-side page caps. The server silently clamps limits above
// these, so the client clamps first: a request that asked for more
// than the server honors would make a full page look short and break
// hasMore inference.
const (
	// MaxListLimit is the largest page the collection endpoints honor.
	MaxListLimit = 1000

	// MaxChangesLimit is the largest page the change feed honors.
	MaxChangesLimit = 500
)

// SupportsBatchCreate reports whether the server has a batch-create
// endpoint for the kind. Only events do.
func SupportsBatchCreate(kind model.EntityKind) bool {
	return kind == model.KindEvent
}

// Health performs the cheapest possible probe of the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{method: "GET", path: "/health"})
}

// Changes fetches one page of the change feed after the given cursor.
func (c *Client) Changes(ctx context.Context, since int64, limit int) (*model.ChangeFeedPage, error) {
	if limit > MaxChangesLimit {
		limit = MaxChangesLimit
	}

	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page model.ChangeFeedPage
	if err := c.do(ctx, request{
		method: "GET",
		path:   "/api/v1/changes",
		query:  q,
		out:    &page,
	}); err != nil {
		return nil, err
	}
	return &page, nil
}

// LatestCursor returns the server's current high-water mark for the
// change feed. Used after bootstrap so incremental pulls skip entries
// already reflected in the full fetch.
func (c *Client) LatestCursor(ctx context.Context) (int64, error) {
	var resp struct {
		Cursor int64 `json:"cursor"`
	}
	if err := c.do(ctx, request{
		method: "GET",
		path:   "/api/v1/changes/latest-cursor",
		out:    &resp,
	}); err != nil {
		return 0, err
	}
	return resp.Cursor, nil
}

// List fetches one page of a kind's collection. hasMore is inferred
// from a full page; the limit is clamped to MaxListLimit so a short
// page always means the collection is exhausted.
func (c *Client) List(ctx context.Context, kind model.EntityKind, offset, limit int) (items []json.RawMessage, hasMore bool, err error) {
	path, err := kindPath(kind)
	if err != nil {
		return nil, false, err
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	if err := c.do(ctx, request{
		method: "GET",
		path:   path,
		query:  q,
		out:    &items,
		kind:   string(kind),
	}); err != nil {
		return nil, false, err
	}
	return items, len(items) == limit, nil
}

// Create submits a create mutation. The idempotency token lets the
// server deduplicate a replayed request and return the original result.
func (c *Client) Create(ctx context.Context, kind model.EntityKind, payload json.RawMessage, idempotencyToken string) error {
	path, err := kindPath(kind)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:         "POST",
		path:           path,
		body:           payload,
		idempotencyKey: idempotencyToken,
		kind:           string(kind),
	})
}

// BatchError is a per-item rejection inside a batch create response.
type BatchError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchCreateEventsResponse reports the outcome of a batch create.
type BatchCreateEventsResponse struct {
	Created []json.RawMessage `json:"created"`
	Errors  []BatchError      `json:"errors"`
	Total   int               `json:"total"`
}

// CreateEventsBatch submits multiple event creates in one request.
// Per-item failures come back in the response rather than failing the
// whole batch.
func (c *Client) CreateEventsBatch(ctx context.Context, payloads []json.RawMessage, idempotencyToken string) (*BatchCreateEventsResponse, error) {
	body := struct {
		Events []json.RawMessage `json:"events"`
	}{Events: payloads}

	var resp BatchCreateEventsResponse
	if err := c.do(ctx, request{
		method:         "POST",
		path:           "/api/v1/events/batch",
		body:           body,
		idempotencyKey: idempotencyToken,
		out:            &resp,
		kind:           string(model.KindEvent),
	}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update submits a partial update for an entity.
func (c *Client) Update(ctx context.Context, kind model.EntityKind, entityID string, payload json.RawMessage) error {
	path, err := kindPath(kind)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:   "PUT",
		path:     path + "/" + entityID,
		body:     payload,
		kind:     string(kind),
		entityID: entityID,
	})
}

// Delete removes an entity on the server.
func (c *Client) Delete(ctx context.Context, kind model.EntityKind, entityID string) error {
	path, err := kindPath(kind)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:   "DELETE",
		path:     path + "/" + entityID,
		kind:     string(kind),
		entityID: entityID,
	})
}
