package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	"github.com/mintforge/market-layer/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Migrate(db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	a, err := store.CreateAsset(ctx, asset.Asset{
		ID: "it-asset-1", Name: "Bottle", ImageURL: "u",
		OwnerReferenceID: "it-wallet-1", State: asset.StateCreated,
		FromHint: "1998", ToHint: "2008",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}

	if _, err := store.CreateAsset(ctx, a); !errors.Is(err, storage.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	price := asset.Price{CurrencyCode: "USDC", NaturalAmount: 10}
	listed, err := store.TransitionAsset(ctx, a.ID, asset.StateCreated, asset.StateListed,
		storage.AssetMutation{ListingPrice: &price})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if listed.State != asset.StateListed || listed.ListingPrice == nil {
		t.Fatalf("unexpected listed asset %+v", listed)
	}

	if _, err := store.TransitionAsset(ctx, a.ID, asset.StateCreated, asset.StateListed, storage.AssetMutation{}); !errors.Is(err, storage.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	if _, err := store.CreateHolder(ctx, holder.Holder{ID: "it-wallet-1", Name: "Alice", Email: "a@example.com"}); err != nil {
		t.Fatalf("create holder: %v", err)
	}
	h, err := store.ApplyAssetToHolder(ctx, "it-wallet-1", a.ID)
	if err != nil {
		t.Fatalf("apply asset: %v", err)
	}
	if h.AppliedAssetID != a.ID || h.FromHint != "1998" {
		t.Fatalf("unexpected holder %+v", h)
	}

	owned, err := store.ListAssetsByOwner(ctx, "it-wallet-1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("expected one owned asset, got %d", len(owned))
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestTransitionAssetStaleStateMapped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE assets")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM assets WHERE id = $1")).
		WithArgs("asset-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "image_url", "owner_reference_id", "state",
			"price_currency", "price_amount", "from_hint", "to_hint", "created_at", "updated_at",
		}).AddRow("asset-1", "n", "", "u", "wallet-1", "pending_sale", nil, nil, "", "", now, now))

	_, err := store.TransitionAsset(context.Background(), "asset-1",
		asset.StateListed, asset.StatePendingSale, storage.AssetMutation{})
	if !errors.Is(err, storage.ErrStaleState) {
		t.Fatalf("expected ErrStaleState when zero rows update, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionAssetForbiddenPairSkipsDatabase(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.TransitionAsset(context.Background(), "asset-1",
		asset.StateCreated, asset.StateSold, storage.AssetMutation{})
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("forbidden pair must not reach the database: %v", err)
	}
}

func TestTransitionAssetMissingAssetMapped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE assets")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM assets WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.TransitionAsset(context.Background(), "ghost",
		asset.StateListed, asset.StatePendingSale, storage.AssetMutation{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing asset, got %v", err)
	}
}
