// Package model defines the wire and storage shapes the sync engine
// moves between the Trendy API and the local store: entity DTOs, the
// change-feed entry, and the pending-mutation outbox record.
package model

import "time"

// EventType is a user-defined category of events.
type EventType struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a tracked occurrence of an event type.
type Event struct {
	ID                string                   `json:"id"`
	UserID            string                   `json:"user_id,omitempty"`
	EventTypeID       string                   `json:"event_type_id"`
	Timestamp         time.Time                `json:"timestamp"`
	Notes             *string                  `json:"notes,omitempty"`
	IsAllDay          bool                     `json:"is_all_day"`
	EndDate           *time.Time               `json:"end_date,omitempty"`
	SourceType        string                   `json:"source_type"`
	ExternalID        *string                  `json:"external_id,omitempty"`
	OriginalTitle     *string                  `json:"original_title,omitempty"`
	GeofenceID        *string                  `json:"geofence_id,omitempty"`
	LocationLatitude  *float64                 `json:"location_latitude,omitempty"`
	LocationLongitude *float64                 `json:"location_longitude,omitempty"`
	LocationName      *string                  `json:"location_name,omitempty"`
	Properties        map[string]PropertyValue `json:"properties,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// Geofence is a geographic region that triggers automatic event
// tracking on entry/exit.
type Geofence struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	Name             string    `json:"name"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Radius           float64   `json:"radius"`
	EventTypeEntryID *string   `json:"event_type_entry_id,omitempty"`
	EventTypeExitID  *string   `json:"event_type_exit_id,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PropertyDefinition is the schema for a custom property on an event
// type.
type PropertyDefinition struct {
	ID           string       `json:"id"`
	EventTypeID  string       `json:"event_type_id"`
	UserID       string       `json:"user_id,omitempty"`
	Key          string       `json:"key"`
	Label        string       `json:"label"`
	PropertyType PropertyType `json:"property_type"`
	Options      []string     `json:"options,omitempty"`
	DefaultValue any          `json:"default_value,omitempty"`
	DisplayOrder int          `json:"display_order"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CreateEventRequest is the request body for creating an event. The ID
// is client-generated (time-ordered UUID) so the create is
// self-describing and safe to replay.
type CreateEventRequest struct {
	ID                string                   `json:"id,omitempty"`
	EventTypeID       string                   `json:"event_type_id"`
	Timestamp         time.Time                `json:"timestamp"`
	Notes             *string                  `json:"notes,omitempty"`
	IsAllDay          bool                     `json:"is_all_day"`
	EndDate           *time.Time               `json:"end_date,omitempty"`
	SourceType        string                   `json:"source_type,omitempty"`
	ExternalID        *string                  `json:"external_id,omitempty"`
	OriginalTitle     *string                  `json:"original_title,omitempty"`
	GeofenceID        *string                  `json:"geofence_id,omitempty"`
	LocationLatitude  *float64                 `json:"location_latitude,omitempty"`
	LocationLongitude *float64                 `json:"location_longitude,omitempty"`
	LocationName      *string                  `json:"location_name,omitempty"`
	Properties        map[string]PropertyValue `json:"properties,omitempty"`
}

// UpdateEventRequest is a partial update; nil fields are left
// untouched by the server.
type UpdateEventRequest struct {
	EventTypeID       *string                   `json:"event_type_id,omitempty"`
	Timestamp         *time.Time                `json:"timestamp,omitempty"`
	Notes             *string                   `json:"notes,omitempty"`
	IsAllDay          *bool                     `json:"is_all_day,omitempty"`
	EndDate           *time.Time                `json:"end_date,omitempty"`
	GeofenceID        *string                   `json:"geofence_id,omitempty"`
	LocationLatitude  *float64                  `json:"location_latitude,omitempty"`
	LocationLongitude *float64                  `json:"location_longitude,omitempty"`
	LocationName      *string                   `json:"location_name,omitempty"`
	Properties        *map[string]PropertyValue `json:"properties,omitempty"`
}

// CreateEventTypeRequest is the request body for creating an event type.
type CreateEventTypeRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// CreateGeofenceRequest is the request body for creating a geofence.
type CreateGeofenceRequest struct {
	ID               string  `json:"id,omitempty"`
	Name             string  `json:"name"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Radius           float64 `json:"radius"`
	EventTypeEntryID *string `json:"event_type_entry_id,omitempty"`
	EventTypeExitID  *string `json:"event_type_exit_id,omitempty"`
	IsActive         bool    `json:"is_active"`
}

// CreatePropertyDefinitionRequest is the request body for creating a
// property definition.
type CreatePropertyDefinitionRequest struct {
	ID           string       `json:"id,omitempty"`
	EventTypeID  string       `json:"event_type_id"`
	Key          string       `json:"key"`
	Label        string       `json:"label"`
	PropertyType PropertyType `json:"property_type"`
	Options      []string     `json:"options,omitempty"`
	DefaultValue any          `json:"default_value,omitempty"`
	DisplayOrder int          `json:"display_order"`
}
