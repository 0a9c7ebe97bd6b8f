package app

import (
	"context"
	"fmt"

	"github.com/mintforge/market-layer/internal/app/ledger"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/services/holders"
	"github.com/mintforge/market-layer/internal/app/services/settlement"
	"github.com/mintforge/market-layer/internal/app/storage"
	"github.com/mintforge/market-layer/internal/app/storage/memory"
	"github.com/mintforge/market-layer/internal/app/system"
	"github.com/mintforge/market-layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Assets    storage.AssetStore
	Holders   storage.HolderStore
	Transfers storage.TransferStore
}

// Options carries the external collaborators and settlement tuning knobs.
type Options struct {
	Market marketplace.Client
	Ledger *ledger.Service

	CurrencyCode      string
	RewardAmount      uint64
	VerifyOwnership   bool
	ReconcileSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Holders    *holders.Service
	Settlement *settlement.Service
	Ledger     *ledger.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Market == nil {
		return nil, fmt.Errorf("marketplace client is required")
	}

	mem := memory.New()
	if stores.Assets == nil {
		stores.Assets = mem
	}
	if stores.Holders == nil {
		stores.Holders = mem
	}
	if stores.Transfers == nil {
		stores.Transfers = mem
	}

	manager := system.NewManager()

	schedule := opts.ReconcileSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	reconciler := settlement.NewReconciler(stores.Assets, opts.Market, schedule, log)
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register reconciler: %w", err)
	}

	settlementOpts := []settlement.Option{
		settlement.WithFlagger(reconciler),
		settlement.WithCurrency(opts.CurrencyCode),
	}
	if opts.VerifyOwnership {
		settlementOpts = append(settlementOpts, settlement.WithVerifier(settlement.NewMarketplaceVerifier(opts.Market)))
	}
	if opts.Ledger != nil && opts.RewardAmount > 0 {
		settlementOpts = append(settlementOpts, settlement.WithRewardPayout(opts.Ledger, opts.RewardAmount))
	}

	holderService := holders.New(stores.Holders, opts.Market, log)
	settlementService := settlement.New(stores.Assets, stores.Holders, opts.Market, log, settlementOpts...)

	if opts.Ledger == nil {
		log.Warn("ledger service not configured; transfers disabled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Holders:    holderService,
		Settlement: settlementService,
		Ledger:     opts.Ledger,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
