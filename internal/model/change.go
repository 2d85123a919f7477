package model

import (
	"encoding/json"
	"time"
)

// EntityKind identifies the type of entity a change or mutation refers to.
// Values match the server's change-feed entity_type discriminator.
type EntityKind string

const (
	KindEvent              EntityKind = "event"
	KindEventType          EntityKind = "event_type"
	KindGeofence           EntityKind = "geofence"
	KindPropertyDefinition EntityKind = "property_definition"
)

// BootstrapOrder lists every entity kind in dependency order:
// schema-defining kinds come before the records that reference them.
// Bootstrap fetches and pull dispatch both rely on this ordering.
var BootstrapOrder = []EntityKind{
	KindEventType,
	KindPropertyDefinition,
	KindGeofence,
	KindEvent,
}

// Valid reports whether k is a kind this client knows how to sync.
func (k EntityKind) Valid() bool {
	switch k {
	case KindEvent, KindEventType, KindGeofence, KindPropertyDefinition:
		return true
	}
	return false
}

// Operation is the type of change applied to an entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEntry is a single row from the server's change feed.
// ID is the monotonic cursor; Data is present for create/update,
// DeletedAt for delete.
type ChangeEntry struct {
	ID         int64           `json:"id"`
	EntityType EntityKind      `json:"entity_type"`
	Operation  Operation       `json:"operation"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ChangeFeedPage is one page of the incremental change feed.
// NextCursor is 0 when the feed is exhausted.
type ChangeFeedPage struct {
	Changes    []ChangeEntry `json:"changes"`
	NextCursor int64         `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// MaxCursor returns the highest change ID in the page, or 0 for an
// empty page.
func (p *ChangeFeedPage) MaxCursor() int64 {
	var max int64
	for _, c := range p.Changes {
		if c.ID > max {
			max = c.ID
		}
	}
	return max
}
