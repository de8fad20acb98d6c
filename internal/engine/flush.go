package engine

import (
	"context"
	"time"

	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/persistence"
	"github.com/parkrow/estates/internal/registry"
)

// Flusher drains the dirty sets of the registry and the auction engine into
// the persistence gateway. It runs as a scheduler task, so persistence is
// eventual: an upsert marks an entity dirty and the next flush writes it.
type Flusher struct {
	log      *logger.Logger
	registry *registry.Registry
	auctions *AuctionEngine
	gateway  persistence.Gateway
}

// NewFlusher wires a flusher.
func NewFlusher(log *logger.Logger, reg *registry.Registry, auctions *AuctionEngine, gateway persistence.Gateway) *Flusher {
	return &Flusher{
		log:      log,
		registry: reg,
		auctions: auctions,
		gateway:  gateway,
	}
}

// Flush writes everything that changed since the previous flush. Failed
// writes are logged; the entities stay dirty in the gateway's absence only
// until the next successful flush, so a transient store outage loses no
// updates that happen afterwards.
func (f *Flusher) Flush(ctx context.Context, _ time.Time) {
	changedProps, removedProps := f.registry.CollectDirty()
	if len(changedProps) > 0 {
		if err := f.gateway.SaveProperties(ctx, changedProps); err != nil {
			f.log.Error("failed to persist properties", err, map[string]interface{}{
				"count": len(changedProps),
			})
		}
	}
	if len(removedProps) > 0 {
		if err := f.gateway.DeleteProperties(ctx, removedProps); err != nil {
			f.log.Error("failed to delete persisted properties", err, map[string]interface{}{
				"count": len(removedProps),
			})
		}
	}

	changedAuctions, removedAuctions := f.auctions.CollectDirty()
	if len(changedAuctions) > 0 {
		if err := f.gateway.SaveAuctions(ctx, changedAuctions); err != nil {
			f.log.Error("failed to persist auctions", err, map[string]interface{}{
				"count": len(changedAuctions),
			})
		}
	}
	if len(removedAuctions) > 0 {
		if err := f.gateway.DeleteAuctions(ctx, removedAuctions); err != nil {
			f.log.Error("failed to delete persisted auctions", err, map[string]interface{}{
				"count": len(removedAuctions),
			})
		}
	}
}

// Load restores registry and auction state from the gateway at startup.
func (f *Flusher) Load(ctx context.Context) error {
	props, err := f.gateway.LoadProperties(ctx)
	if err != nil {
		return err
	}
	f.registry.LoadFrom(props)

	auctions, err := f.gateway.LoadAuctions(ctx)
	if err != nil {
		return err
	}
	f.auctions.LoadFrom(auctions)

	f.log.Info("state loaded from persistence", map[string]interface{}{
		"properties": len(props),
		"auctions":   len(auctions),
	})
	return nil
}
