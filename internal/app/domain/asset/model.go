// Package asset defines the collectible asset model and its lifecycle state
// machine. The asset identifier is assigned by the custodial marketplace and
// is immutable once a local record exists.
package asset

import "time"

// State is the lifecycle stage of an asset. Transitions only move forward,
// except for Reverted which is reachable from Listed and PendingSale on
// cancellation.
type State string

const (
	StateDraft       State = "draft"
	StateCreated     State = "created"
	StateListed      State = "listed"
	StatePendingSale State = "pending_sale"
	StateSold        State = "sold"
	StateReverted    State = "reverted"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateCreated, StateListed, StatePendingSale, StateSold, StateReverted:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to
// next. No transition skips an intermediate state.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateDraft:
		return next == StateCreated
	case StateCreated:
		return next == StateListed
	case StateListed:
		return next == StatePendingSale || next == StateReverted
	case StatePendingSale:
		return next == StateSold || next == StateReverted
	case StateReverted:
		return next == StateListed
	default:
		return false
	}
}

// Price is a listing price in human-readable units of a marketplace currency.
type Price struct {
	CurrencyCode  string `json:"currency_code"`
	NaturalAmount int64  `json:"natural_amount"`
}

// Asset is a digital collectible tracked in the local registry. The remote
// marketplace is authoritative for ID, Name, Description and ImageURL.
type Asset struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      string    `json:"description" db:"description"`
	ImageURL         string    `json:"image_url" db:"image_url"`
	OwnerReferenceID string    `json:"owner_reference_id" db:"owner_reference_id"`
	State            State     `json:"state" db:"state"`
	ListingPrice     *Price    `json:"listing_price,omitempty"`
	FromHint         string    `json:"from_hint" db:"from_hint"`
	ToHint           string    `json:"to_hint" db:"to_hint"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
