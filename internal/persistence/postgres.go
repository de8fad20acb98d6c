package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parkrow/estates/internal/database"
	"github.com/parkrow/estates/internal/models"
)

// PostgresGateway stores entity documents in two JSONB tables, one row per
// property id and one per auctioned apartment id.
type PostgresGateway struct {
	db *database.Database
}

// NewPostgresGateway creates a gateway on the given pool.
func NewPostgresGateway(db *database.Database) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// EnsureSchema creates the document tables when they do not exist yet.
func (g *PostgresGateway) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS apartments (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS auctions (
			apartment_id TEXT PRIMARY KEY,
			doc          JSONB NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := g.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create document tables: %w", err)
	}
	return nil
}

// SaveProperties upserts one document per property.
func (g *PostgresGateway) SaveProperties(ctx context.Context, props []models.Property) error {
	const query = `
		INSERT INTO apartments (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	for i := range props {
		doc, err := json.Marshal(&props[i])
		if err != nil {
			return fmt.Errorf("failed to encode property %s: %w", props[i].ID, err)
		}
		if _, err := g.db.Pool.Exec(ctx, query, string(props[i].ID), doc); err != nil {
			return fmt.Errorf("failed to save property %s: %w", props[i].ID, err)
		}
	}
	return nil
}

// DeleteProperties removes documents for administratively deleted ids.
func (g *PostgresGateway) DeleteProperties(ctx context.Context, ids []models.PropertyID) error {
	for _, id := range ids {
		if _, err := g.db.Pool.Exec(ctx, `DELETE FROM apartments WHERE id = $1`, string(id)); err != nil {
			return fmt.Errorf("failed to delete property %s: %w", id, err)
		}
	}
	return nil
}

// LoadProperties reads every property document.
func (g *PostgresGateway) LoadProperties(ctx context.Context) ([]models.Property, error) {
	rows, err := g.db.Pool.Query(ctx, `SELECT doc FROM apartments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query apartments: %w", err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan apartment row: %w", err)
		}
		var p models.Property
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("failed to decode apartment document: %w", err)
		}
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apartment rows: %w", err)
	}
	return props, nil
}

// SaveAuctions upserts one document per active auction.
func (g *PostgresGateway) SaveAuctions(ctx context.Context, auctions []models.Auction) error {
	const query = `
		INSERT INTO auctions (apartment_id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (apartment_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	for i := range auctions {
		doc, err := json.Marshal(&auctions[i])
		if err != nil {
			return fmt.Errorf("failed to encode auction %s: %w", auctions[i].ApartmentID, err)
		}
		if _, err := g.db.Pool.Exec(ctx, query, string(auctions[i].ApartmentID), doc); err != nil {
			return fmt.Errorf("failed to save auction %s: %w", auctions[i].ApartmentID, err)
		}
	}
	return nil
}

// DeleteAuctions removes documents for settled or cancelled auctions.
func (g *PostgresGateway) DeleteAuctions(ctx context.Context, ids []models.PropertyID) error {
	for _, id := range ids {
		if _, err := g.db.Pool.Exec(ctx, `DELETE FROM auctions WHERE apartment_id = $1`, string(id)); err != nil {
			return fmt.Errorf("failed to delete auction %s: %w", id, err)
		}
	}
	return nil
}

// LoadAuctions reads every auction document.
func (g *PostgresGateway) LoadAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := g.db.Pool.Query(ctx, `SELECT doc FROM auctions ORDER BY apartment_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan auction row: %w", err)
		}
		var a models.Auction
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("failed to decode auction document: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auction rows: %w", err)
	}
	return auctions, nil
}
