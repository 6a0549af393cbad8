package model

import "time"

// MaskPrefix is prepended to the stored fingerprint when a key is displayed.
const MaskPrefix = "****"

// APIKey is the stored shape of an issued credential. The plaintext key is
// never stored; only its SHA-256 digest and the last four characters are
// persisted.
type APIKey struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"display_name" db:"name"`
	KeyHash   string    `json:"-" db:"key_hash"` // SHA-256 hex, never expose
	Last4     string    `json:"last4" db:"last4"`
	Revoked   bool      `json:"revoked" db:"revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Metadata is the optional descriptive record attached to the key.
	Metadata *Metadata `json:"metadata,omitempty" db:"-"`
}

// Masked returns the display form of the key, e.g. "****a1B2".
func (k *APIKey) Masked() string {
	return MaskPrefix + k.Last4
}

// Active reports whether the key may still authenticate requests.
func (k *APIKey) Active() bool {
	return !k.Revoked
}
