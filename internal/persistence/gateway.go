package persistence

import (
	"context"

	"github.com/parkrow/estates/internal/models"
)

// Gateway is the document-store port. Properties and auctions are persisted
// as one document per entity, keyed by property id and apartment id
// respectively. The format is gateway-private; callers only see domain
// values.
//
// Writes are driven by the periodic flush task, which hands the gateway the
// entities that changed since the previous flush.
type Gateway interface {
	SaveProperties(ctx context.Context, props []models.Property) error
	DeleteProperties(ctx context.Context, ids []models.PropertyID) error
	LoadProperties(ctx context.Context) ([]models.Property, error)

	SaveAuctions(ctx context.Context, auctions []models.Auction) error
	DeleteAuctions(ctx context.Context, ids []models.PropertyID) error
	LoadAuctions(ctx context.Context) ([]models.Auction, error)
}
