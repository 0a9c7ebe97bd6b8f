// Package settlement drives the asset lifecycle state machine across the
// local registry, the custodial marketplace, and the reward token ledger.
// The orchestrator owns the cross-system consistency contract; the adapters
// it calls are pure protocol translators.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/domain/holder"
	ledgerdomain "github.com/mintforge/market-layer/internal/app/domain/ledger"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/metrics"
	"github.com/mintforge/market-layer/internal/app/storage"
	"github.com/mintforge/market-layer/pkg/logger"
)

// ErrInvalidState is returned when an operation is attempted against an
// asset whose current state does not permit it.
var ErrInvalidState = errors.New("asset state does not permit this operation")

// ErrOwnershipUnverified is returned by verifiers when the custodial service
// does not confirm the claimed ownership.
var ErrOwnershipUnverified = errors.New("ownership not confirmed by marketplace")

// InconsistencyError marks a local persistence failure after a remote call
// already succeeded. It must never be collapsed into a generic failure: the
// reconciler targets exactly the affected owner.
type InconsistencyError struct {
	AssetID          string
	OwnerReferenceID string
	Op               string
	Err              error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("persistence failed after remote success (%s, asset %s): %v", e.Op, e.AssetID, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// OwnershipVerifier confirms with the custodial service that a holder owns an
// asset before the sale is finalized locally.
type OwnershipVerifier interface {
	ConfirmOwnership(ctx context.Context, assetID, holderID string) error
}

// RewardPayer issues the reward token payout tied to an ownership change.
// *ledger.Service satisfies it.
type RewardPayer interface {
	Transfer(ctx context.Context, recipientAddress string, humanAmount uint64) (ledgerdomain.TransferRecord, error)
}

// Flagger receives owner reference ids whose local state needs repair.
type Flagger interface {
	Flag(ownerReferenceID string)
}

// MintRequest carries the fields for a new asset.
type MintRequest struct {
	Name             string
	Description      string
	ImageURL         string
	OwnerReferenceID string
	FromHint         string
	ToHint           string
}

// Service is the settlement orchestrator.
type Service struct {
	assets   storage.AssetStore
	holders  storage.HolderStore
	market   marketplace.Client
	verifier OwnershipVerifier
	rewards  RewardPayer
	flagger  Flagger

	rewardAmount uint64
	currencyCode string
	log          *logger.Logger
}

// Option configures optional orchestrator collaborators.
type Option func(*Service)

// WithVerifier enables the ownership verification hook on ApplyOwnership.
func WithVerifier(v OwnershipVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithRewardPayout pays amount reward tokens to the new owner when a sale is
// finalized. A zero amount disables payouts.
func WithRewardPayout(payer RewardPayer, amount uint64) Option {
	return func(s *Service) {
		s.rewards = payer
		s.rewardAmount = amount
	}
}

// WithFlagger routes inconsistency signals to the reconciler.
func WithFlagger(f Flagger) Option {
	return func(s *Service) { s.flagger = f }
}

// WithCurrency overrides the listing currency code.
func WithCurrency(code string) Option {
	return func(s *Service) {
		if code = strings.TrimSpace(code); code != "" {
			s.currencyCode = code
		}
	}
}

// New constructs the orchestrator.
func New(assets storage.AssetStore, holders storage.HolderStore, market marketplace.Client, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	s := &Service{
		assets:       assets,
		holders:      holders,
		market:       market,
		currencyCode: "USDC",
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint creates the asset on the marketplace and then writes the local row.
// The remote service is the source of truth for the asset id and canonical
// metadata, so the response fields are persisted, never the request fields.
func (s *Service) Mint(ctx context.Context, req MintRequest) (asset.Asset, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	req.OwnerReferenceID = strings.TrimSpace(req.OwnerReferenceID)

	if req.Name == "" {
		return asset.Asset{}, fmt.Errorf("name is required")
	}
	if req.ImageURL == "" {
		return asset.Asset{}, fmt.Errorf("imageUrl is required")
	}
	if req.OwnerReferenceID == "" {
		return asset.Asset{}, fmt.Errorf("publickey is required")
	}

	created, err := s.market.CreateAsset(ctx, marketplace.CreateAssetRequest{
		Name:               req.Name,
		Description:        req.Description,
		ImageURL:           req.ImageURL,
		DestinationOwnerID: req.OwnerReferenceID,
	})
	if err != nil {
		return asset.Asset{}, err
	}

	row := asset.Asset{
		ID:               created.ID,
		Name:             created.Name,
		Description:      created.Description,
		ImageURL:         created.ImageURL,
		OwnerReferenceID: created.OwnerID,
		State:            asset.StateCreated,
		FromHint:         req.FromHint,
		ToHint:           req.ToHint,
	}
	stored, err := s.assets.CreateAsset(ctx, row)
	if err != nil {
		s.flagInconsistency(created.OwnerID)
		metrics.ObserveInconsistency("mint")
		return asset.Asset{}, &InconsistencyError{
			AssetID:          created.ID,
			OwnerReferenceID: created.OwnerID,
			Op:               "mint",
			Err:              err,
		}
	}

	metrics.ObserveTransition(string(asset.StateCreated))
	s.log.WithField("asset_id", stored.ID).
		WithField("owner", stored.OwnerReferenceID).
		Info("asset minted")
	return stored, nil
}

// ListForSale lists the asset on the marketplace and advances
// Created/Reverted to Listed. The owner completes consent out of band; the
// orchestrator returns the consent URL without waiting.
func (s *Service) ListForSale(ctx context.Context, assetID string, naturalAmount int64) (string, asset.Asset, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return "", asset.Asset{}, fmt.Errorf("idNft is required")
	}
	if naturalAmount <= 0 {
		return "", asset.Asset{}, fmt.Errorf("naturalAmount must be positive")
	}

	a, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return "", asset.Asset{}, err
	}
	if a.State != asset.StateCreated && a.State != asset.StateReverted {
		return "", asset.Asset{}, fmt.Errorf("asset %s is %s: %w", assetID, a.State, ErrInvalidState)
	}

	price := asset.Price{CurrencyCode: s.currencyCode, NaturalAmount: naturalAmount}
	consentURL, err := s.market.ListForSale(ctx, assetID, marketplace.Price{
		CurrencyCode:  price.CurrencyCode,
		NaturalAmount: price.NaturalAmount,
	})
	if err != nil {
		// Protocol violations and rejections leave the local state
		// untouched; the asset was never listed.
		return "", asset.Asset{}, err
	}

	updated, err := s.assets.TransitionAsset(ctx, assetID, a.State, asset.StateListed, storage.AssetMutation{ListingPrice: &price})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return "", asset.Asset{}, err
		}
		s.flagInconsistency(a.OwnerReferenceID)
		metrics.ObserveInconsistency("list")
		return "", asset.Asset{}, &InconsistencyError{AssetID: assetID, OwnerReferenceID: a.OwnerReferenceID, Op: "list", Err: err}
	}

	metrics.ObserveTransition(string(asset.StateListed))
	return consentURL, updated, nil
}

// Buy starts a purchase and advances Listed to PendingSale. Validation
// happens before any remote call.
func (s *Service) Buy(ctx context.Context, assetID, buyerID string) (string, asset.Asset, error) {
	assetID = strings.TrimSpace(assetID)
	buyerID = strings.TrimSpace(buyerID)
	if assetID == "" || buyerID == "" {
		return "", asset.Asset{}, fmt.Errorf("idNFT and buyerId are required")
	}

	a, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return "", asset.Asset{}, err
	}
	if a.State != asset.StateListed {
		return "", asset.Asset{}, fmt.Errorf("asset %s is %s: %w", assetID, a.State, ErrInvalidState)
	}

	consentURL, err := s.market.Buy(ctx, assetID, buyerID)
	if err != nil {
		return "", asset.Asset{}, err
	}

	updated, err := s.assets.TransitionAsset(ctx, assetID, asset.StateListed, asset.StatePendingSale, storage.AssetMutation{})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return "", asset.Asset{}, err
		}
		s.flagInconsistency(a.OwnerReferenceID)
		metrics.ObserveInconsistency("buy")
		return "", asset.Asset{}, &InconsistencyError{AssetID: assetID, OwnerReferenceID: a.OwnerReferenceID, Op: "buy", Err: err}
	}

	metrics.ObserveTransition(string(asset.StatePendingSale))
	return consentURL, updated, nil
}

// ApplyOwnership finalizes a sale: PendingSale to Sold plus the holder
// application, guarded by the conditional transition so concurrent callers
// cannot both settle the same asset. When a verifier is configured the claim
// is checked against the custodial service first. The reward payout runs only
// after the transition wins.
func (s *Service) ApplyOwnership(ctx context.Context, holderID, assetID string) (holder.Holder, asset.Asset, error) {
	holderID = strings.TrimSpace(holderID)
	assetID = strings.TrimSpace(assetID)
	if holderID == "" || assetID == "" {
		return holder.Holder{}, asset.Asset{}, fmt.Errorf("publickey and idNft are required")
	}

	a, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return holder.Holder{}, asset.Asset{}, err
	}
	if _, err := s.holders.GetHolder(ctx, holderID); err != nil {
		return holder.Holder{}, asset.Asset{}, err
	}
	if a.State != asset.StatePendingSale {
		return holder.Holder{}, asset.Asset{}, fmt.Errorf("asset %s is %s: %w", assetID, a.State, ErrInvalidState)
	}

	if s.verifier != nil {
		if err := s.verifier.ConfirmOwnership(ctx, assetID, holderID); err != nil {
			s.log.WithError(err).
				WithField("asset_id", assetID).
				WithField("holder_id", holderID).
				Warn("ownership claim diverges from marketplace view")
			return holder.Holder{}, asset.Asset{}, err
		}
	}

	updated, err := s.assets.TransitionAsset(ctx, assetID, asset.StatePendingSale, asset.StateSold, storage.AssetMutation{
		OwnerReferenceID: holderID,
		ClearListing:     false,
	})
	if err != nil {
		return holder.Holder{}, asset.Asset{}, err
	}

	h, err := s.holders.ApplyAssetToHolder(ctx, holderID, assetID)
	if err != nil {
		s.flagInconsistency(holderID)
		metrics.ObserveInconsistency("apply")
		return holder.Holder{}, asset.Asset{}, &InconsistencyError{AssetID: assetID, OwnerReferenceID: holderID, Op: "apply", Err: err}
	}

	metrics.ObserveTransition(string(asset.StateSold))
	s.payReward(ctx, holderID, assetID)
	return h, updated, nil
}

// Revert cancels a listing or pending sale. The listing price is cleared so
// a later re-listing starts clean.
func (s *Service) Revert(ctx context.Context, assetID string) (asset.Asset, error) {
	a, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return asset.Asset{}, err
	}
	if a.State != asset.StateListed && a.State != asset.StatePendingSale {
		return asset.Asset{}, fmt.Errorf("asset %s is %s: %w", assetID, a.State, ErrInvalidState)
	}

	updated, err := s.assets.TransitionAsset(ctx, assetID, a.State, asset.StateReverted, storage.AssetMutation{ClearListing: true})
	if err != nil {
		return asset.Asset{}, err
	}
	metrics.ObserveTransition(string(asset.StateReverted))
	return updated, nil
}

// Get returns one asset from the registry.
func (s *Service) Get(ctx context.Context, assetID string) (asset.Asset, error) {
	return s.assets.GetAsset(ctx, assetID)
}

// List returns every asset in the registry.
func (s *Service) List(ctx context.Context) ([]asset.Asset, error) {
	return s.assets.ListAssets(ctx)
}

// FetchRemote proxies the marketplace's view of an owner's assets.
func (s *Service) FetchRemote(ctx context.Context, ownerReferenceID string) ([]marketplace.RemoteAsset, error) {
	ownerReferenceID = strings.TrimSpace(ownerReferenceID)
	if ownerReferenceID == "" {
		return nil, fmt.Errorf("ownerReferenceId is required")
	}
	return s.market.FindByOwner(ctx, ownerReferenceID)
}

// payReward issues the reward token transfer tied to the ownership change.
// The sale is already settled at this point; a payout failure is logged and
// counted, never unwound.
func (s *Service) payReward(ctx context.Context, holderID, assetID string) {
	if s.rewards == nil || s.rewardAmount == 0 {
		return
	}
	rec, err := s.rewards.Transfer(ctx, holderID, s.rewardAmount)
	if err != nil {
		metrics.ObserveRewardPayout(false)
		s.log.WithError(err).
			WithField("asset_id", assetID).
			WithField("holder_id", holderID).
			Error("reward payout failed")
		return
	}
	metrics.ObserveRewardPayout(true)
	s.log.WithField("signature", rec.Signature).
		WithField("holder_id", holderID).
		Info("reward payout settled")
}

func (s *Service) flagInconsistency(ownerReferenceID string) {
	if s.flagger != nil && ownerReferenceID != "" {
		s.flagger.Flag(ownerReferenceID)
	}
}

// MarketplaceVerifier confirms ownership by re-reading the marketplace's
// owner view.
type MarketplaceVerifier struct {
	client marketplace.Client
}

// NewMarketplaceVerifier builds the default verifier.
func NewMarketplaceVerifier(client marketplace.Client) *MarketplaceVerifier {
	return &MarketplaceVerifier{client: client}
}

func (v *MarketplaceVerifier) ConfirmOwnership(ctx context.Context, assetID, holderID string) error {
	owned, err := v.client.FindByOwner(ctx, holderID)
	if err != nil {
		return fmt.Errorf("verify ownership: %w", err)
	}
	for _, a := range owned {
		if a.ID == assetID {
			return nil
		}
	}
	return fmt.Errorf("asset %s not owned by %s: %w", assetID, holderID, ErrOwnershipUnverified)
}
