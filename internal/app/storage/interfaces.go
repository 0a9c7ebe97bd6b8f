package storage

import (
	"context"
	"errors"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	"github.com/mintforge/market-layer/internal/app/domain/ledger"
)

// Sentinel errors shared by all store implementations. Callers distinguish
// them with errors.Is.
var (
	// ErrNotFound is returned when an asset or holder does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when creating a record whose identifier is
	// already taken.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrStaleState is returned by TransitionAsset when the stored state no
	// longer matches the expected state. The caller lost a concurrent race
	// and must not proceed with follow-up side effects.
	ErrStaleState = errors.New("stale asset state")
	// ErrInvalidTransition is returned by TransitionAsset when the lifecycle
	// state machine does not permit moving from expected to next, regardless
	// of the stored state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// AssetMutation is applied atomically together with a state transition.
type AssetMutation struct {
	ListingPrice     *asset.Price
	ClearListing     bool
	OwnerReferenceID string
}

// AssetStore persists asset records and enforces the conditional-write guard
// on lifecycle transitions.
type AssetStore interface {
	CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	GetAsset(ctx context.Context, id string) (asset.Asset, error)
	ListAssets(ctx context.Context) ([]asset.Asset, error)
	ListAssetsByOwner(ctx context.Context, ownerReferenceID string) ([]asset.Asset, error)

	// TransitionAsset advances the asset from expected to next only if the
	// stored state still equals expected at write time; otherwise it fails
	// with ErrStaleState. The mutation is applied in the same write. Pairs
	// the state machine forbids fail with ErrInvalidTransition before any
	// write is attempted.
	TransitionAsset(ctx context.Context, id string, expected, next asset.State, mut AssetMutation) (asset.Asset, error)
}

// HolderStore persists holder records.
type HolderStore interface {
	CreateHolder(ctx context.Context, h holder.Holder) (holder.Holder, error)
	GetHolder(ctx context.Context, id string) (holder.Holder, error)
	ListHolders(ctx context.Context) ([]holder.Holder, error)

	// ApplyAssetToHolder sets the holder's applied asset and copies the
	// asset's provenance hints in one atomic write. It fails with
	// ErrNotFound when either the holder or the asset is missing.
	ApplyAssetToHolder(ctx context.Context, holderID, assetID string) (holder.Holder, error)
}

// TransferStore appends immutable ledger settlement records.
type TransferStore interface {
	CreateTransfer(ctx context.Context, rec ledger.TransferRecord) (ledger.TransferRecord, error)
	ListTransfers(ctx context.Context) ([]ledger.TransferRecord, error)
}
