package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	"github.com/mintforge/market-layer/internal/app/domain/ledger"
	"github.com/mintforge/market-layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	assets    map[string]asset.Asset
	holders   map[string]holder.Holder
	transfers []ledger.TransferRecord
}

var _ storage.AssetStore = (*Store)(nil)
var _ storage.HolderStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:  1,
		assets:  make(map[string]asset.Asset),
		holders: make(map[string]holder.Holder),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AssetStore implementation -------------------------------------------------

func (s *Store) CreateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		return asset.Asset{}, fmt.Errorf("asset id is required")
	}
	if _, exists := s.assets[a.ID]; exists {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", a.ID, storage.ErrDuplicateID)
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.ListingPrice = clonePrice(a.ListingPrice)

	s.assets[a.ID] = a
	return cloneAsset(a), nil
}

func (s *Store) GetAsset(_ context.Context, id string) (asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", id, storage.ErrNotFound)
	}
	return cloneAsset(a), nil
}

func (s *Store) ListAssets(_ context.Context) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]asset.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		result = append(result, cloneAsset(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListAssetsByOwner(_ context.Context, ownerReferenceID string) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []asset.Asset
	for _, a := range s.assets {
		if a.OwnerReferenceID == ownerReferenceID {
			result = append(result, cloneAsset(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) TransitionAsset(_ context.Context, id string, expected, next asset.State, mut storage.AssetMutation) (asset.Asset, error) {
	if !expected.CanTransition(next) {
		return asset.Asset{}, fmt.Errorf("asset %s: %s to %s: %w", id, expected, next, storage.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", id, storage.ErrNotFound)
	}
	if a.State != expected {
		return asset.Asset{}, fmt.Errorf("asset %s is %s, expected %s: %w", id, a.State, expected, storage.ErrStaleState)
	}

	a.State = next
	if mut.ListingPrice != nil {
		a.ListingPrice = clonePrice(mut.ListingPrice)
	}
	if mut.ClearListing {
		a.ListingPrice = nil
	}
	if mut.OwnerReferenceID != "" {
		a.OwnerReferenceID = mut.OwnerReferenceID
	}
	a.UpdatedAt = time.Now().UTC()

	s.assets[id] = a
	return cloneAsset(a), nil
}

// HolderStore implementation ------------------------------------------------

func (s *Store) CreateHolder(_ context.Context, h holder.Holder) (holder.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		return holder.Holder{}, fmt.Errorf("holder id is required")
	}
	if _, exists := s.holders[h.ID]; exists {
		return holder.Holder{}, fmt.Errorf("holder %s: %w", h.ID, storage.ErrDuplicateID)
	}

	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	s.holders[h.ID] = h
	return h, nil
}

func (s *Store) GetHolder(_ context.Context, id string) (holder.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holders[id]
	if !ok {
		return holder.Holder{}, fmt.Errorf("holder %s: %w", id, storage.ErrNotFound)
	}
	return h, nil
}

func (s *Store) ListHolders(_ context.Context) ([]holder.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]holder.Holder, 0, len(s.holders))
	for _, h := range s.holders {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ApplyAssetToHolder(_ context.Context, holderID, assetID string) (holder.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holders[holderID]
	if !ok {
		return holder.Holder{}, fmt.Errorf("holder %s: %w", holderID, storage.ErrNotFound)
	}
	a, ok := s.assets[assetID]
	if !ok {
		return holder.Holder{}, fmt.Errorf("asset %s: %w", assetID, storage.ErrNotFound)
	}

	h.AppliedAssetID = a.ID
	h.FromHint = a.FromHint
	h.ToHint = a.ToHint
	h.UpdatedAt = time.Now().UTC()

	s.holders[holderID] = h
	return h, nil
}

// TransferStore implementation ----------------------------------------------

func (s *Store) CreateTransfer(_ context.Context, rec ledger.TransferRecord) (ledger.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}

	s.transfers = append(s.transfers, rec)
	return rec, nil
}

func (s *Store) ListTransfers(_ context.Context) ([]ledger.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.TransferRecord, len(s.transfers))
	copy(result, s.transfers)
	return result, nil
}

func cloneAsset(a asset.Asset) asset.Asset {
	a.ListingPrice = clonePrice(a.ListingPrice)
	return a
}

func clonePrice(p *asset.Price) *asset.Price {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
