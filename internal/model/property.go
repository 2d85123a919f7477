package model

import "encoding/json"

// PropertyType is the data type of a custom property. The server may
// introduce new types before every client updates, so decoding falls
// back to PropertyTypeUnknown while preserving the raw value in
// PropertyValue for observability.
type PropertyType string

const (
	PropertyTypeText     PropertyType = "text"
	PropertyTypeNumber   PropertyType = "number"
	PropertyTypeBoolean  PropertyType = "boolean"
	PropertyTypeDate     PropertyType = "date"
	PropertyTypeSelect   PropertyType = "select"
	PropertyTypeDuration PropertyType = "duration"
	PropertyTypeURL      PropertyType = "url"
	PropertyTypeEmail    PropertyType = "email"

	// PropertyTypeUnknown is the explicit fallback for type values this
	// client does not recognize yet.
	PropertyTypeUnknown PropertyType = "unknown"
)

// knownPropertyTypes is the closed set this client understands.
var knownPropertyTypes = map[PropertyType]bool{
	PropertyTypeText:     true,
	PropertyTypeNumber:   true,
	PropertyTypeBoolean:  true,
	PropertyTypeDate:     true,
	PropertyTypeSelect:   true,
	PropertyTypeDuration: true,
	PropertyTypeURL:      true,
	PropertyTypeEmail:    true,
}

// PropertyValue is the typed value of a property on an event.
// RawType holds the original wire value when Type is unknown.
type PropertyValue struct {
	Type    PropertyType `json:"type"`
	Value   any          `json:"value"`
	RawType string       `json:"-"`
}

// UnmarshalJSON decodes a property value, mapping unrecognized type
// discriminators to PropertyTypeUnknown instead of failing or silently
// defaulting. The raw discriminator is retained in RawType.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	typ := PropertyType(raw.Type)
	if !knownPropertyTypes[typ] {
		v.RawType = raw.Type
		typ = PropertyTypeUnknown
	}

	v.Type = typ
	v.Value = raw.Value
	return nil
}

// MarshalJSON re-emits the original discriminator for unknown types so
// round-tripping a value this client doesn't understand is lossless.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	typ := string(v.Type)
	if v.Type == PropertyTypeUnknown && v.RawType != "" {
		typ = v.RawType
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{Type: typ, Value: v.Value})
}
