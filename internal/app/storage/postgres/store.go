// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	ledgerdomain "github.com/mintforge/market-layer/internal/app/domain/ledger"
	"github.com/mintforge/market-layer/internal/app/storage"
)

const pqUniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.AssetStore = (*Store)(nil)
var _ storage.HolderStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type assetRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Description      string         `db:"description"`
	ImageURL         string         `db:"image_url"`
	OwnerReferenceID string         `db:"owner_reference_id"`
	State            string         `db:"state"`
	PriceCurrency    sql.NullString `db:"price_currency"`
	PriceAmount      sql.NullInt64  `db:"price_amount"`
	FromHint         string         `db:"from_hint"`
	ToHint           string         `db:"to_hint"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r assetRow) toDomain() asset.Asset {
	a := asset.Asset{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		ImageURL:         r.ImageURL,
		OwnerReferenceID: r.OwnerReferenceID,
		State:            asset.State(r.State),
		FromHint:         r.FromHint,
		ToHint:           r.ToHint,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.PriceCurrency.Valid {
		a.ListingPrice = &asset.Price{
			CurrencyCode:  r.PriceCurrency.String,
			NaturalAmount: r.PriceAmount.Int64,
		}
	}
	return a
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// AssetStore implementation -------------------------------------------------

func (s *Store) CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	if a.ID == "" {
		return asset.Asset{}, fmt.Errorf("asset id is required")
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	var currency sql.NullString
	var amount sql.NullInt64
	if a.ListingPrice != nil {
		currency = sql.NullString{String: a.ListingPrice.CurrencyCode, Valid: true}
		amount = sql.NullInt64{Int64: a.ListingPrice.NaturalAmount, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, description, image_url, owner_reference_id,
			state, price_currency, price_amount, from_hint, to_hint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.Name, a.Description, a.ImageURL, a.OwnerReferenceID,
		string(a.State), currency, amount, a.FromHint, a.ToHint, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return asset.Asset{}, fmt.Errorf("asset %s: %w", a.ID, storage.ErrDuplicateID)
		}
		return asset.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return a, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM assets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, fmt.Errorf("asset %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return asset.Asset{}, fmt.Errorf("select asset: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAssets(ctx context.Context) ([]asset.Asset, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM assets ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	result := make([]asset.Asset, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) ListAssetsByOwner(ctx context.Context, ownerReferenceID string) ([]asset.Asset, error) {
	var rows []assetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM assets WHERE owner_reference_id = $1 ORDER BY created_at
	`, ownerReferenceID)
	if err != nil {
		return nil, fmt.Errorf("list assets by owner: %w", err)
	}
	result := make([]asset.Asset, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// TransitionAsset relies on the conditional WHERE clause for the optimistic
// guard. Zero rows affected means either the asset is gone or another writer
// moved the state first; a follow-up read distinguishes the two.
func (s *Store) TransitionAsset(ctx context.Context, id string, expected, next asset.State, mut storage.AssetMutation) (asset.Asset, error) {
	if !expected.CanTransition(next) {
		return asset.Asset{}, fmt.Errorf("asset %s: %s to %s: %w", id, expected, next, storage.ErrInvalidTransition)
	}

	var currency sql.NullString
	var amount sql.NullInt64
	if mut.ListingPrice != nil {
		currency = sql.NullString{String: mut.ListingPrice.CurrencyCode, Valid: true}
		amount = sql.NullInt64{Int64: mut.ListingPrice.NaturalAmount, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE assets
		SET state = $3,
			price_currency = CASE WHEN $4 THEN NULL WHEN $5::text IS NOT NULL THEN $5 ELSE price_currency END,
			price_amount = CASE WHEN $4 THEN NULL WHEN $6::bigint IS NOT NULL THEN $6 ELSE price_amount END,
			owner_reference_id = CASE WHEN $7 <> '' THEN $7 ELSE owner_reference_id END,
			updated_at = $8
		WHERE id = $1 AND state = $2
	`, id, string(expected), string(next), mut.ClearListing, currency, amount,
		mut.OwnerReferenceID, time.Now().UTC())
	if err != nil {
		return asset.Asset{}, fmt.Errorf("transition asset: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return asset.Asset{}, fmt.Errorf("transition asset: %w", err)
	}
	if rows == 0 {
		current, getErr := s.GetAsset(ctx, id)
		if getErr != nil {
			return asset.Asset{}, getErr
		}
		return asset.Asset{}, fmt.Errorf("asset %s is %s, expected %s: %w",
			id, current.State, expected, storage.ErrStaleState)
	}
	return s.GetAsset(ctx, id)
}

// HolderStore implementation ------------------------------------------------

func (s *Store) CreateHolder(ctx context.Context, h holder.Holder) (holder.Holder, error) {
	if h.ID == "" {
		return holder.Holder{}, fmt.Errorf("holder id is required")
	}

	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holders (id, name, email, image_url, applied_asset_id,
			from_hint, to_hint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, h.ID, h.Name, h.Email, h.ImageURL, h.AppliedAssetID,
		h.FromHint, h.ToHint, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return holder.Holder{}, fmt.Errorf("holder %s: %w", h.ID, storage.ErrDuplicateID)
		}
		return holder.Holder{}, fmt.Errorf("insert holder: %w", err)
	}
	return h, nil
}

func (s *Store) GetHolder(ctx context.Context, id string) (holder.Holder, error) {
	var h holder.Holder
	err := s.db.GetContext(ctx, &h, `SELECT * FROM holders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return holder.Holder{}, fmt.Errorf("holder %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return holder.Holder{}, fmt.Errorf("select holder: %w", err)
	}
	return h, nil
}

func (s *Store) ListHolders(ctx context.Context) ([]holder.Holder, error) {
	var result []holder.Holder
	if err := s.db.SelectContext(ctx, &result, `SELECT * FROM holders ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	return result, nil
}

func (s *Store) ApplyAssetToHolder(ctx context.Context, holderID, assetID string) (holder.Holder, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return holder.Holder{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var row assetRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM assets WHERE id = $1`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return holder.Holder{}, fmt.Errorf("asset %s: %w", assetID, storage.ErrNotFound)
	}
	if err != nil {
		return holder.Holder{}, fmt.Errorf("select asset: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE holders
		SET applied_asset_id = $2, from_hint = $3, to_hint = $4, updated_at = $5
		WHERE id = $1
	`, holderID, assetID, row.FromHint, row.ToHint, time.Now().UTC())
	if err != nil {
		return holder.Holder{}, fmt.Errorf("update holder: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return holder.Holder{}, fmt.Errorf("holder %s: %w", holderID, storage.ErrNotFound)
	}

	var h holder.Holder
	if err := tx.GetContext(ctx, &h, `SELECT * FROM holders WHERE id = $1`, holderID); err != nil {
		return holder.Holder{}, fmt.Errorf("select holder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return holder.Holder{}, fmt.Errorf("commit tx: %w", err)
	}
	return h, nil
}

// TransferStore implementation ----------------------------------------------

func (s *Store) CreateTransfer(ctx context.Context, rec ledgerdomain.TransferRecord) (ledgerdomain.TransferRecord, error) {
	if rec.ID == "" {
		return ledgerdomain.TransferRecord{}, fmt.Errorf("transfer id is required")
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (id, sender_account, recipient_account, mint_address,
			raw_amount, signature, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.SenderAccount, rec.RecipientAccount, rec.MintAddress,
		int64(rec.RawAmount), rec.Signature, rec.SubmittedAt)
	if err != nil {
		if isDuplicate(err) {
			return ledgerdomain.TransferRecord{}, fmt.Errorf("transfer %s: %w", rec.ID, storage.ErrDuplicateID)
		}
		return ledgerdomain.TransferRecord{}, fmt.Errorf("insert transfer: %w", err)
	}
	return rec, nil
}

func (s *Store) ListTransfers(ctx context.Context) ([]ledgerdomain.TransferRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, sender_account, recipient_account, mint_address, raw_amount, signature, submitted_at
		FROM transfers ORDER BY submitted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var result []ledgerdomain.TransferRecord
	for rows.Next() {
		var rec ledgerdomain.TransferRecord
		var raw int64
		if err := rows.Scan(&rec.ID, &rec.SenderAccount, &rec.RecipientAccount,
			&rec.MintAddress, &raw, &rec.Signature, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		rec.RawAmount = uint64(raw)
		result = append(result, rec)
	}
	return result, rows.Err()
}
