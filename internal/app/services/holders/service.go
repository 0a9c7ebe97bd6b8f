// Package holders manages holder (wallet/profile) registration and lookup.
package holders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mintforge/market-layer/internal/app/domain/holder"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/storage"
	"github.com/mintforge/market-layer/pkg/logger"
)

// Service registers holders locally and mirrors them to the custodial
// marketplace, which treats the holder id as a natural key.
type Service struct {
	store  storage.HolderStore
	market marketplace.Client
	log    *logger.Logger
}

// New constructs a holder service.
func New(store storage.HolderStore, market marketplace.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("holders")
	}
	return &Service{store: store, market: market, log: log}
}

// Register stores the holder locally and then registers the same reference id
// with the marketplace. The remote call is idempotent, so a failed attempt
// can be repeated without local changes.
func (s *Service) Register(ctx context.Context, id, name, email, imageURL string) (holder.Holder, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if id == "" {
		return holder.Holder{}, fmt.Errorf("publickey is required")
	}
	if email == "" {
		return holder.Holder{}, fmt.Errorf("email is required")
	}

	h, err := s.store.CreateHolder(ctx, holder.Holder{
		ID:       id,
		Name:     name,
		Email:    email,
		ImageURL: imageURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			return holder.Holder{}, fmt.Errorf("holder %s already registered: %w", id, err)
		}
		return holder.Holder{}, err
	}

	// The holder's wallet key doubles as marketplace reference id and
	// external wallet address.
	if err := s.market.RegisterHolder(ctx, id, email, id); err != nil {
		s.log.WithError(err).WithField("holder_id", id).
			Warn("holder stored locally but marketplace registration failed")
		return h, fmt.Errorf("marketplace registration for %s: %w", id, err)
	}

	s.log.WithField("holder_id", id).Info("holder registered")
	return h, nil
}

// Get returns a holder by id.
func (s *Service) Get(ctx context.Context, id string) (holder.Holder, error) {
	return s.store.GetHolder(ctx, id)
}

// Exists reports whether a holder is registered locally.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetHolder(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns all registered holders.
func (s *Service) List(ctx context.Context) ([]holder.Holder, error) {
	return s.store.ListHolders(ctx)
}
