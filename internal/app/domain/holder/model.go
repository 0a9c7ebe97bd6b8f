// Package holder defines the wallet/profile record that owns assets.
package holder

import "time"

// Holder is a marketplace participant identified by a wallet public key. The
// same identifier is used as the owner reference on the custodial service.
type Holder struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email" db:"email"`
	ImageURL       string    `json:"image_url" db:"image_url"`
	AppliedAssetID string    `json:"applied_asset_id,omitempty" db:"applied_asset_id"`
	FromHint       string    `json:"from_hint" db:"from_hint"`
	ToHint         string    `json:"to_hint" db:"to_hint"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
