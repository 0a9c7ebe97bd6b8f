package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	"github.com/mintforge/market-layer/internal/app/storage"
)

func seedAsset(t *testing.T, s *Store, id string, state asset.State) asset.Asset {
	t.Helper()
	a, err := s.CreateAsset(context.Background(), asset.Asset{
		ID:       id,
		Name:     "Test Asset",
		ImageURL: "https://img.example/" + id,
		State:    state,
		FromHint: "2020",
		ToHint:   "2024",
	})
	if err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return a
}

func TestCreateAssetDuplicate(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateCreated)

	_, err := s.CreateAsset(context.Background(), asset.Asset{ID: "asset-1", Name: "again"})
	if !errors.Is(err, storage.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestCreateAssetRequiresID(t *testing.T) {
	s := New()
	if _, err := s.CreateAsset(context.Background(), asset.Asset{Name: "no id"}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestGetAssetNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetAsset(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionAsset(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateCreated)

	price := asset.Price{CurrencyCode: "USDC", NaturalAmount: 25}
	updated, err := s.TransitionAsset(context.Background(), "asset-1", asset.StateCreated, asset.StateListed,
		storage.AssetMutation{ListingPrice: &price})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.State != asset.StateListed {
		t.Fatalf("expected listed, got %s", updated.State)
	}
	if updated.ListingPrice == nil || updated.ListingPrice.NaturalAmount != 25 {
		t.Fatalf("expected listing price to be applied, got %+v", updated.ListingPrice)
	}
}

func TestTransitionAssetStale(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateListed)

	_, err := s.TransitionAsset(context.Background(), "asset-1", asset.StateCreated, asset.StateListed, storage.AssetMutation{})
	if !errors.Is(err, storage.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	a, err := s.GetAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.State != asset.StateListed {
		t.Fatalf("failed transition must not change state, got %s", a.State)
	}
}

func TestTransitionAssetRejectsSkippedState(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateCreated)

	_, err := s.TransitionAsset(context.Background(), "asset-1", asset.StateCreated, asset.StateSold, storage.AssetMutation{})
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	a, err := s.GetAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.State != asset.StateCreated {
		t.Fatalf("rejected transition must not change state, got %s", a.State)
	}
}

func TestTransitionAssetSingleWinner(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateListed)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionAsset(context.Background(), "asset-1",
				asset.StateListed, asset.StatePendingSale, storage.AssetMutation{})
			if err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, storage.ErrStaleState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestTransitionClearsListing(t *testing.T) {
	s := New()
	price := asset.Price{CurrencyCode: "USDC", NaturalAmount: 10}
	a, err := s.CreateAsset(context.Background(), asset.Asset{
		ID: "asset-1", Name: "n", ImageURL: "u", State: asset.StateListed, ListingPrice: &price,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ListingPrice == nil {
		t.Fatal("expected seeded listing price")
	}

	updated, err := s.TransitionAsset(context.Background(), "asset-1", asset.StateListed, asset.StateReverted,
		storage.AssetMutation{ClearListing: true})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.ListingPrice != nil {
		t.Fatalf("expected cleared listing price, got %+v", updated.ListingPrice)
	}
}

func TestApplyAssetToHolder(t *testing.T) {
	s := New()
	seedAsset(t, s, "asset-1", asset.StateSold)
	if _, err := s.CreateHolder(context.Background(), holder.Holder{ID: "wallet-1", Name: "Alice"}); err != nil {
		t.Fatalf("create holder: %v", err)
	}

	h, err := s.ApplyAssetToHolder(context.Background(), "wallet-1", "asset-1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if h.AppliedAssetID != "asset-1" {
		t.Fatalf("expected applied asset id, got %q", h.AppliedAssetID)
	}
	if h.FromHint != "2020" || h.ToHint != "2024" {
		t.Fatalf("expected provenance hints copied, got %q/%q", h.FromHint, h.ToHint)
	}
}

func TestApplyAssetToHolderMissingAsset(t *testing.T) {
	s := New()
	if _, err := s.CreateHolder(context.Background(), holder.Holder{ID: "wallet-1", Name: "Alice"}); err != nil {
		t.Fatalf("create holder: %v", err)
	}

	_, err := s.ApplyAssetToHolder(context.Background(), "wallet-1", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	h, err := s.GetHolder(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if h.AppliedAssetID != "" {
		t.Fatalf("holder must stay unmodified, got applied asset %q", h.AppliedAssetID)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	price := asset.Price{CurrencyCode: "USDC", NaturalAmount: 5}
	if _, err := s.CreateAsset(context.Background(), asset.Asset{
		ID: "asset-1", Name: "n", ImageURL: "u", State: asset.StateListed, ListingPrice: &price,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := s.GetAsset(context.Background(), "asset-1")
	a.ListingPrice.NaturalAmount = 999

	again, _ := s.GetAsset(context.Background(), "asset-1")
	if again.ListingPrice.NaturalAmount != 5 {
		t.Fatalf("mutating a returned asset must not affect the store, got %d", again.ListingPrice.NaturalAmount)
	}
}
