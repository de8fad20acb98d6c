package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

// Guestbook message limit.
const MaxGuestbookMessageLen = 240

// Service-level errors.
var (
	ErrPropertyNotFound  = registry.ErrNotFound
	ErrPropertyExists    = registry.ErrAlreadyExists
	ErrAlreadyOwned      = errors.New("property already has an owner")
	ErrNotOwner          = errors.New("property is not owned by this account")
	ErrOwnershipLimit    = errors.New("ownership limit reached")
	ErrInsufficientFunds = currency.ErrInsufficientFunds
	ErrTaxDelinquent     = errors.New("property has unpaid taxes")
	ErrAuctioned         = errors.New("property has an active auction")
	ErrMaxLevel          = errors.New("property is already at maximum level")
	ErrNothingToClaim    = errors.New("no pending income to claim")
	ErrNoTaxDue          = errors.New("no taxes are due")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5 stars")
	ErrOwnRating         = errors.New("owners cannot rate their own property")
	ErrEmptyMessage      = errors.New("guestbook message must not be empty")
	ErrMessageTooLong    = errors.New("guestbook message too long")
	ErrInvalidProperty   = errors.New("invalid property definition")
)

// AuctionIndex is the slice of the auction engine the estate service needs:
// whether a property is currently on the block.
type AuctionIndex interface {
	HasActiveAuction(propertyID models.PropertyID) bool
}

// ListFilter narrows ListProperties results. Zero value matches everything.
type ListFilter struct {
	// Owner restricts to properties owned by the account.
	Owner *models.AccountID
	// Unowned restricts to the purchasable pool.
	Unowned bool
	// Status restricts to properties in the given derived tax status.
	Status *models.TaxStatus
}

// CreatePropertyInput is the administrative definition of a new apartment.
type CreatePropertyInput struct {
	ID            models.PropertyID
	Region        string
	World         string
	Price         int64
	BaseTax       int64
	TaxPeriodDays int
}

// EstateService exposes the player-facing property operations: purchase,
// sale, income claims, manual tax payment, upgrades, ratings, and the
// administrative lifecycle. All operations are synchronous and leave no
// partial side effects on failure.
type EstateService interface {
	Buy(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (models.Property, error)
	Sell(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error)
	ClaimIncome(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error)
	PayTax(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error)
	Upgrade(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (models.Property, error)
	Rate(ctx context.Context, account models.AccountID, propertyID models.PropertyID, stars int) error
	SignGuestbook(ctx context.Context, account models.AccountID, propertyID models.PropertyID, message string) error

	GetProperty(propertyID models.PropertyID) (models.Property, error)
	ListProperties(filter ListFilter) []models.Property
	TaxStatus(propertyID models.PropertyID, now time.Time) (models.TaxStatus, error)
	StatusOf(p *models.Property, now time.Time) models.TaxStatus

	CreateProperty(ctx context.Context, input CreatePropertyInput) (models.Property, error)
	RemoveProperty(ctx context.Context, propertyID models.PropertyID) error
}

// estateService is the concrete implementation of EstateService.
type estateService struct {
	log      *logger.Logger
	registry *registry.Registry
	ledger   currency.Ledger
	buffs    buff.Provider
	auctions AuctionIndex
	cfg      config.EconomyConfig
	timing   models.TaxTiming
}

// NewEstateService creates a new instance of EstateService.
func NewEstateService(
	log *logger.Logger,
	reg *registry.Registry,
	ledger currency.Ledger,
	buffs buff.Provider,
	auctions AuctionIndex,
	cfg config.EconomyConfig,
	timing models.TaxTiming,
) EstateService {
	return &estateService{
		log:      log,
		registry: reg,
		ledger:   ledger,
		buffs:    buffs,
		auctions: auctions,
		cfg:      cfg,
		timing:   timing,
	}
}

// Buy transfers an unowned property to the account after charging the full
// price. The ownership-slot limit is the configured base plus the account's
// extra-slots buff.
func (s *estateService) Buy(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (models.Property, error) {
	p, err := s.registry.Get(propertyID)
	if err != nil {
		return models.Property{}, err
	}
	if p.Owned() {
		return models.Property{}, ErrAlreadyOwned
	}

	buffs, err := s.buffs.Get(ctx, account)
	if err != nil {
		return models.Property{}, fmt.Errorf("failed to read buffs: %w", err)
	}
	limit := s.cfg.MaxPropertiesPerAccount + buffs.ExtraOwnershipSlots
	if owned := s.registry.CountOwnedBy(account); owned >= limit {
		return models.Property{}, fmt.Errorf("%w: %d of %d slots used", ErrOwnershipLimit, owned, limit)
	}

	if err := s.ledger.Withdraw(ctx, account, p.Price); err != nil {
		return models.Property{}, fmt.Errorf("purchase: %w", err)
	}

	now := time.Now().UTC()
	updated, err := s.registry.Update(propertyID, func(p *models.Property) error {
		if p.Owned() {
			return ErrAlreadyOwned
		}
		owner := account
		p.OwnerID = &owner
		p.ResetEpisode(now)
		return nil
	})
	if err != nil {
		// Someone else won the race after the withdrawal; give the money
		// back and report the conflict.
		if derr := s.ledger.Deposit(ctx, account, p.Price); derr != nil {
			s.log.Severe("purchase rollback refund failed", derr, map[string]interface{}{
				"property_id": string(propertyID),
				"account":     string(account),
				"amount":      p.Price,
			})
		}
		return models.Property{}, err
	}

	s.log.Info("property purchased", map[string]interface{}{
		"property_id": string(propertyID),
		"account":     string(account),
		"price":       p.Price,
	})
	return updated, nil
}

// Sell returns an owned, tax-current, unauctioned property to the pool and
// refunds the configured fraction of its price. Pending income is forfeited
// with the episode.
func (s *estateService) Sell(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error) {
	var refund int64
	now := time.Now().UTC()
	_, err := s.registry.Update(propertyID, func(p *models.Property) error {
		// Checked under the property lock so a concurrent auction open
		// cannot slip between the check and the sale.
		if s.auctions != nil && s.auctions.HasActiveAuction(propertyID) {
			return ErrAuctioned
		}
		if !p.OwnedBy(account) {
			return ErrNotOwner
		}
		if p.OldestUnpaid() != nil || p.InactiveSince != nil {
			return ErrTaxDelinquent
		}
		refund = models.Scale(p.Price, s.cfg.ResaleRate)
		p.OwnerID = nil
		p.ResetEpisode(now)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := s.ledger.Deposit(ctx, account, refund); err != nil {
		// Ownership is already released; the refund is owed, not lost.
		s.log.Severe("sale refund failed", err, map[string]interface{}{
			"property_id": string(propertyID),
			"account":     string(account),
			"amount":      refund,
		})
		return 0, fmt.Errorf("sale refund: %w", err)
	}

	s.log.Info("property sold back to pool", map[string]interface{}{
		"property_id": string(propertyID),
		"account":     string(account),
		"refund":      refund,
	})
	return refund, nil
}

// ClaimIncome deposits the property's pending income to the owner and
// zeroes it in one read-modify-write under the property lock.
func (s *estateService) ClaimIncome(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error) {
	var claimed int64
	_, err := s.registry.Update(propertyID, func(p *models.Property) error {
		if !p.OwnedBy(account) {
			return ErrNotOwner
		}
		if p.PendingIncome <= 0 {
			return ErrNothingToClaim
		}
		if err := s.ledger.Deposit(ctx, account, p.PendingIncome); err != nil {
			return fmt.Errorf("income deposit: %w", err)
		}
		claimed = p.PendingIncome
		p.PendingIncome = 0
		p.Stats.TotalIncomeClaimed += claimed
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("income claimed", map[string]interface{}{
		"property_id": string(propertyID),
		"account":     string(account),
		"amount":      claimed,
	})
	return claimed, nil
}

// PayTax settles every outstanding invoice plus the accrued penalty in one
// payment, reactivating the property.
func (s *estateService) PayTax(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (int64, error) {
	var paid int64
	now := time.Now().UTC()
	_, err := s.registry.Update(propertyID, func(p *models.Property) error {
		if !p.OwnedBy(account) {
			return ErrNotOwner
		}
		due := p.UnpaidTotal() + p.AccruedPenalty
		if due <= 0 && len(p.UnpaidInvoices()) == 0 {
			return ErrNoTaxDue
		}
		if due > 0 {
			if err := s.ledger.Withdraw(ctx, account, due); err != nil {
				return fmt.Errorf("tax payment: %w", err)
			}
		}
		penalty := p.AccruedPenalty
		p.MarkAllPaid(now)
		p.Stats.TotalTaxPaid += due - penalty
		p.Stats.TotalPenaltyPaid += penalty
		paid = due
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("taxes paid", map[string]interface{}{
		"property_id": string(propertyID),
		"account":     string(account),
		"amount":      paid,
	})
	return paid, nil
}

// Upgrade raises the property one level after charging the tier's upgrade
// cost.
func (s *estateService) Upgrade(ctx context.Context, account models.AccountID, propertyID models.PropertyID) (models.Property, error) {
	updated, err := s.registry.Update(propertyID, func(p *models.Property) error {
		if !p.OwnedBy(account) {
			return ErrNotOwner
		}
		if p.Level >= models.MaxLevel {
			return ErrMaxLevel
		}
		tier, ok := s.cfg.Tier(p.Level + 1)
		if !ok {
			return ErrMaxLevel
		}
		if err := s.ledger.Withdraw(ctx, account, tier.UpgradeCost); err != nil {
			return fmt.Errorf("upgrade: %w", err)
		}
		p.Level++
		return nil
	})
	if err != nil {
		return models.Property{}, err
	}

	s.log.Info("property upgraded", map[string]interface{}{
		"property_id": string(propertyID),
		"account":     string(account),
		"level":       updated.Level,
	})
	return updated, nil
}

// Rate records a visitor's 1-5 star rating. One rating per account; a new
// rating replaces the old.
func (s *estateService) Rate(ctx context.Context, account models.AccountID, propertyID models.PropertyID, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	_, err := s.registry.Update(propertyID, func(p *models.Property) error {
		if p.OwnedBy(account) {
			return ErrOwnRating
		}
		if p.Ratings == nil {
			p.Ratings = make(map[models.AccountID]int)
		}
		p.Ratings[account] = stars
		return nil
	})
	return err
}

// SignGuestbook appends a visitor message to the property's guestbook.
func (s *estateService) SignGuestbook(ctx context.Context, account models.AccountID, propertyID models.PropertyID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	if len(message) > MaxGuestbookMessageLen {
		return fmt.Errorf("%w: %d > %d characters", ErrMessageTooLong, len(message), MaxGuestbookMessageLen)
	}
	_, err := s.registry.Update(propertyID, func(p *models.Property) error {
		p.Guestbook = append(p.Guestbook, models.GuestbookEntry{
			Author:   account,
			Message:  message,
			SignedAt: time.Now().UTC(),
		})
		return nil
	})
	return err
}

// GetProperty returns a point-in-time copy of a property.
func (s *estateService) GetProperty(propertyID models.PropertyID) (models.Property, error) {
	return s.registry.Get(propertyID)
}

// ListProperties returns a snapshot of all properties matching the filter.
func (s *estateService) ListProperties(filter ListFilter) []models.Property {
	now := time.Now().UTC()
	return s.registry.List(func(p *models.Property) bool {
		if filter.Unowned && p.Owned() {
			return false
		}
		if filter.Owner != nil && !p.OwnedBy(*filter.Owner) {
			return false
		}
		if filter.Status != nil && models.ComputeTaxStatus(p, now, s.timing) != *filter.Status {
			return false
		}
		return true
	})
}

// TaxStatus derives the delinquency status of a property without mutating
// anything.
func (s *estateService) TaxStatus(propertyID models.PropertyID, now time.Time) (models.TaxStatus, error) {
	p, err := s.registry.Get(propertyID)
	if err != nil {
		return models.TaxStatusActive, err
	}
	return models.ComputeTaxStatus(&p, now, s.timing), nil
}

// StatusOf derives the status of an already-fetched snapshot.
func (s *estateService) StatusOf(p *models.Property, now time.Time) models.TaxStatus {
	return models.ComputeTaxStatus(p, now, s.timing)
}

// CreateProperty registers a new unowned apartment.
func (s *estateService) CreateProperty(_ context.Context, input CreatePropertyInput) (models.Property, error) {
	if input.ID == "" || input.Price <= 0 || input.BaseTax < 0 || input.TaxPeriodDays < 1 {
		return models.Property{}, ErrInvalidProperty
	}
	p := models.Property{
		ID:            input.ID,
		Region:        input.Region,
		World:         input.World,
		Price:         input.Price,
		BaseTax:       input.BaseTax,
		TaxPeriodDays: input.TaxPeriodDays,
		Level:         models.MinLevel,
	}
	if err := s.registry.Create(p); err != nil {
		return models.Property{}, err
	}
	return s.registry.Get(input.ID)
}

// RemoveProperty deletes an apartment. Rejected while an auction is open
// for it; cancel the auction first.
func (s *estateService) RemoveProperty(_ context.Context, propertyID models.PropertyID) error {
	if s.auctions != nil && s.auctions.HasActiveAuction(propertyID) {
		return ErrAuctioned
	}
	return s.registry.Remove(propertyID)
}
