package settlement

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mintforge/market-layer/internal/app/domain/asset"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/metrics"
	"github.com/mintforge/market-layer/internal/app/storage"
	"github.com/mintforge/market-layer/internal/app/system"
	"github.com/mintforge/market-layer/pkg/logger"
)

// Reconciler repairs the local registry against the marketplace's owner view.
// Owners are flagged when a local write fails after a remote success; each
// sweep re-reads FindByOwner and inserts the rows the failure dropped.
type Reconciler struct {
	assets storage.AssetStore
	market marketplace.Client
	log    *logger.Logger

	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	flagged map[string]bool
	running bool
}

var _ system.Service = (*Reconciler)(nil)
var _ Flagger = (*Reconciler)(nil)

// NewReconciler creates a reconciler sweeping on the given cron schedule
// (for example "@every 1m").
func NewReconciler(assets storage.AssetStore, market marketplace.Client, schedule string, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("settlement-reconciler")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Reconciler{
		assets:   assets,
		market:   market,
		log:      log,
		schedule: schedule,
		flagged:  make(map[string]bool),
	}
}

func (r *Reconciler) Name() string { return "settlement-reconciler" }

// Flag marks an owner reference for repair on the next sweep.
func (r *Reconciler) Flag(ownerReferenceID string) {
	if ownerReferenceID == "" {
		return
	}
	r.mu.Lock()
	r.flagged[ownerReferenceID] = true
	r.mu.Unlock()
	r.log.WithField("owner", ownerReferenceID).Warn("owner flagged for reconciliation")
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Sweep(context.Background()) }); err != nil {
		return err
	}
	r.cron.Start()
	r.running = true
	r.log.WithField("schedule", r.schedule).Info("reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.running = false
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep repairs every flagged owner. It is exported so operators can trigger
// a pass outside the schedule.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.mu.Lock()
	owners := make([]string, 0, len(r.flagged))
	for owner := range r.flagged {
		owners = append(owners, owner)
	}
	r.mu.Unlock()

	for _, owner := range owners {
		if err := r.reconcileOwner(ctx, owner); err != nil {
			r.log.WithError(err).WithField("owner", owner).Warn("reconciliation attempt failed")
			continue
		}
		r.mu.Lock()
		delete(r.flagged, owner)
		r.mu.Unlock()
	}
}

// reconcileOwner inserts every remotely-owned asset the local registry is
// missing. The marketplace is the source of truth for identity, so repaired
// rows land in Created state with remote metadata.
func (r *Reconciler) reconcileOwner(ctx context.Context, owner string) error {
	remote, err := r.market.FindByOwner(ctx, owner)
	if err != nil {
		return err
	}

	for _, item := range remote {
		_, err := r.assets.GetAsset(ctx, item.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		_, err = r.assets.CreateAsset(ctx, asset.Asset{
			ID:               item.ID,
			Name:             item.Name,
			Description:      item.Description,
			ImageURL:         item.ImageURL,
			OwnerReferenceID: item.OwnerID,
			State:            asset.StateCreated,
		})
		if err != nil && !errors.Is(err, storage.ErrDuplicateID) {
			return err
		}
		if err == nil {
			metrics.ObserveRepair()
			r.log.WithField("asset_id", item.ID).
				WithField("owner", owner).
				Info("asset repaired from marketplace view")
		}
	}
	return nil
}
