package model

import "time"

// Metadata kinds used by the dashboard. The core treats Kind as an opaque
// label and never interprets Attributes.
const (
	MetadataKindHardware = "hardware"
	MetadataKindMotor    = "motor"
)

// Metadata is the zero-or-one descriptive record attached to an API key
// (device specs, motor specs, image links). It is cascade-deleted with the
// key and plays no part in verification.
type Metadata struct {
	ID         string            `json:"id"`
	APIKeyID   string            `json:"api_key_id"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Attribute returns the named attribute, or "" when it is absent.
func (m *Metadata) Attribute(name string) string {
	if m == nil {
		return ""
	}
	return m.Attributes[name]
}
