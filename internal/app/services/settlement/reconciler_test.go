package settlement

import (
	"context"
	"fmt"
	"testing"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/storage/memory"
	"github.com/mintforge/market-layer/pkg/testutil"
)

func TestSweepRepairsMissingAssets(t *testing.T) {
	store := memory.New()
	market := testutil.NewMockMarketplace()
	market.AddOwnedAsset("wallet-1", marketplace.RemoteAsset{
		ID: "r1", Name: "Remote One", ImageURL: "u1", OwnerID: "wallet-1",
	})
	market.AddOwnedAsset("wallet-1", marketplace.RemoteAsset{
		ID: "r2", Name: "Remote Two", ImageURL: "u2", OwnerID: "wallet-1",
	})

	// r2 already exists locally; only r1 needs repair.
	if _, err := store.CreateAsset(context.Background(), asset.Asset{
		ID: "r2", Name: "Remote Two", ImageURL: "u2", OwnerReferenceID: "wallet-1", State: asset.StateListed,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewReconciler(store, market, "@every 1m", nil)
	r.Flag("wallet-1")
	r.Sweep(context.Background())

	repaired, err := store.GetAsset(context.Background(), "r1")
	if err != nil {
		t.Fatalf("expected r1 repaired: %v", err)
	}
	if repaired.State != asset.StateCreated {
		t.Fatalf("repaired rows land in created state, got %s", repaired.State)
	}
	if repaired.OwnerReferenceID != "wallet-1" {
		t.Fatalf("expected owner wallet-1, got %q", repaired.OwnerReferenceID)
	}

	existing, err := store.GetAsset(context.Background(), "r2")
	if err != nil {
		t.Fatalf("get r2: %v", err)
	}
	if existing.State != asset.StateListed {
		t.Fatalf("existing rows must not be touched, got %s", existing.State)
	}
}

func TestSweepKeepsFlagOnFailure(t *testing.T) {
	store := memory.New()
	market := testutil.NewMockMarketplace()
	market.Err = fmt.Errorf("remote down")

	r := NewReconciler(store, market, "@every 1m", nil)
	r.Flag("wallet-1")
	r.Sweep(context.Background())

	r.mu.Lock()
	stillFlagged := r.flagged["wallet-1"]
	r.mu.Unlock()
	if !stillFlagged {
		t.Fatal("a failed sweep must keep the owner flagged")
	}

	market.Err = nil
	market.AddOwnedAsset("wallet-1", marketplace.RemoteAsset{ID: "r1", Name: "n", OwnerID: "wallet-1"})
	r.Sweep(context.Background())

	if _, err := store.GetAsset(context.Background(), "r1"); err != nil {
		t.Fatalf("expected repair on the retry sweep: %v", err)
	}
	r.mu.Lock()
	stillFlagged = r.flagged["wallet-1"]
	r.mu.Unlock()
	if stillFlagged {
		t.Fatal("a successful sweep must clear the flag")
	}
}

func TestReconcilerLifecycle(t *testing.T) {
	r := NewReconciler(memory.New(), testutil.NewMockMarketplace(), "@every 1h", nil)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}
}

func TestReconcilerBadSchedule(t *testing.T) {
	r := NewReconciler(memory.New(), testutil.NewMockMarketplace(), "not a schedule", nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
