package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/parkrow/estates/internal/models"
)

// MemoryGateway keeps the document store in process memory. Used in tests
// and when the service runs without a database.
type MemoryGateway struct {
	mu       sync.Mutex
	props    map[models.PropertyID]models.Property
	auctions map[models.PropertyID]models.Auction
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		props:    make(map[models.PropertyID]models.Property),
		auctions: make(map[models.PropertyID]models.Auction),
	}
}

// SaveProperties implements Gateway.
func (g *MemoryGateway) SaveProperties(_ context.Context, props []models.Property) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range props {
		g.props[props[i].ID] = props[i].Clone()
	}
	return nil
}

// DeleteProperties implements Gateway.
func (g *MemoryGateway) DeleteProperties(_ context.Context, ids []models.PropertyID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.props, id)
	}
	return nil
}

// LoadProperties implements Gateway.
func (g *MemoryGateway) LoadProperties(_ context.Context) ([]models.Property, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Property, 0, len(g.props))
	for _, p := range g.props {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAuctions implements Gateway.
func (g *MemoryGateway) SaveAuctions(_ context.Context, auctions []models.Auction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range auctions {
		g.auctions[auctions[i].ApartmentID] = auctions[i].Clone()
	}
	return nil
}

// DeleteAuctions implements Gateway.
func (g *MemoryGateway) DeleteAuctions(_ context.Context, ids []models.PropertyID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.auctions, id)
	}
	return nil
}

// LoadAuctions implements Gateway.
func (g *MemoryGateway) LoadAuctions(_ context.Context) ([]models.Auction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Auction, 0, len(g.auctions))
	for _, a := range g.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApartmentID < out[j].ApartmentID })
	return out, nil
}
