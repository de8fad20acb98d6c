package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

// CapabilityChecker answers external permission questions (tax bypass,
// auction administration). Permission data lives outside this service.
type CapabilityChecker func(account models.AccountID) bool

// TaxEngine runs the recurring tax cycle: invoice emission, auto-collection,
// penalty accrual, inactivation, and repossession. It owns no state of its
// own; every mutation goes through the registry's per-id serialization.
type TaxEngine struct {
	log      *logger.Logger
	registry *registry.Registry
	ledger   currency.Ledger
	buffs    buff.Provider
	notifier Notifier
	bypass   CapabilityChecker
	cfg      config.TaxConfig
}

// NewTaxEngine wires a tax engine. A nil bypass checker means no account is
// tax-exempt.
func NewTaxEngine(
	log *logger.Logger,
	reg *registry.Registry,
	ledger currency.Ledger,
	buffs buff.Provider,
	notifier Notifier,
	bypass CapabilityChecker,
	cfg config.TaxConfig,
) *TaxEngine {
	if bypass == nil {
		bypass = func(models.AccountID) bool { return false }
	}
	return &TaxEngine{
		log:      log,
		registry: reg,
		ledger:   ledger,
		buffs:    buffs,
		notifier: notifier,
		bypass:   bypass,
		cfg:      cfg,
	}
}

// Timing returns the thresholds used for status derivation.
func (e *TaxEngine) Timing() models.TaxTiming {
	return models.TaxTiming{
		GracePeriod:         e.cfg.GracePeriod,
		InactiveGracePeriod: e.cfg.InactiveGracePeriod,
	}
}

// Tick processes every owned property once. A failure on one property is
// logged and never aborts processing of the others.
func (e *TaxEngine) Tick(ctx context.Context, now time.Time) {
	for _, id := range e.registry.IDs() {
		if err := e.processProperty(ctx, id, now); err != nil {
			e.log.Error("tax processing failed", err, map[string]interface{}{
				"property_id": string(id),
			})
		}
	}
}

func (e *TaxEngine) processProperty(ctx context.Context, id models.PropertyID, now time.Time) error {
	snapshot, err := e.registry.Get(id)
	if err != nil {
		// Removed between listing and processing; nothing to do.
		return nil
	}
	if !snapshot.Owned() {
		return nil
	}
	owner := *snapshot.OwnerID

	// Buffs and capabilities are read outside the property lock; the
	// mutator re-checks ownership so a concurrent transfer cannot apply
	// another account's modifiers.
	buffs, err := e.buffs.Get(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to read buffs for %s: %w", owner, err)
	}
	exempt := e.bypass(owner)

	var events []taxEvent
	_, err = e.registry.Update(id, func(p *models.Property) error {
		if !p.OwnedBy(owner) {
			return registry.ErrNoChange
		}
		events = e.assess(ctx, p, owner, buffs, exempt, now)
		if len(events) == 0 {
			return registry.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		ev.emit(e, owner, id)
	}
	return nil
}

// taxEvent defers notifications until the property lock is released.
type taxEvent struct {
	kind   string
	amount int64
}

func (ev taxEvent) emit(e *TaxEngine, owner models.AccountID, id models.PropertyID) {
	fields := map[string]interface{}{
		"property_id": string(id),
		"owner":       string(owner),
		"amount":      ev.amount,
	}
	switch ev.kind {
	case "invoiced":
		e.log.Info("tax invoice issued", fields)
	case "collected":
		e.log.Info("tax collected", fields)
		e.notifier.Notify(owner, fmt.Sprintf("Tax of %d collected for apartment %s", ev.amount, id))
	case "exempted":
		e.log.Info("tax waived for exempt owner", fields)
	case "inactive":
		e.log.Warn("property now inactive for non-payment", fields)
		e.notifier.Notify(owner, fmt.Sprintf("Apartment %s is now inactive: unpaid taxes", id))
	case "repossessed":
		e.log.Warn("property repossessed", fields)
		e.notifier.Notify(owner, fmt.Sprintf("Apartment %s was repossessed for unpaid taxes", id))
	}
}

// assess runs the three tax steps against one locked property. It returns
// the events to emit after the lock is released.
func (e *TaxEngine) assess(ctx context.Context, p *models.Property, owner models.AccountID, buffs models.Buffs, exempt bool, now time.Time) []taxEvent {
	var events []taxEvent

	// Step 1: emit a new invoice once a full tax period has elapsed and
	// nothing is outstanding.
	if p.OldestUnpaid() == nil && now.Sub(p.LastTaxPaymentAt) >= p.TaxPeriod() {
		amount := models.Reduced(p.BaseTax, buffs.TaxReduction)
		p.Invoices = append(p.Invoices, models.TaxInvoice{
			ID:        uuid.New().String(),
			Amount:    amount,
			CreatedAt: now,
		})
		events = append(events, taxEvent{kind: "invoiced", amount: amount})
	}

	// Step 2: collect invoices that exhausted the grace window.
	if inv := p.OldestUnpaid(); inv != nil && now.Sub(inv.CreatedAt) >= e.cfg.GracePeriod {
		if exempt {
			amount := p.MarkAllPaid(now)
			events = append(events, taxEvent{kind: "exempted", amount: amount})
		} else {
			due := p.UnpaidTotal() + p.AccruedPenalty
			if due == 0 {
				// A fully reduced tax leaves nothing to transfer.
				p.MarkAllPaid(now)
				events = append(events, taxEvent{kind: "collected", amount: 0})
			} else if err := e.ledger.Withdraw(ctx, owner, due); err == nil {
				penalty := p.AccruedPenalty
				p.MarkAllPaid(now)
				p.Stats.TotalTaxPaid += due - penalty
				p.Stats.TotalPenaltyPaid += penalty
				events = append(events, taxEvent{kind: "collected", amount: due})
			} else {
				if p.InactiveSince == nil {
					at := now
					p.InactiveSince = &at
					events = append(events, taxEvent{kind: "inactive"})
				}
				// Penalty accrues once per tax period while overdue.
				if p.LastPenaltyAt == nil || now.Sub(*p.LastPenaltyAt) >= p.TaxPeriod() {
					p.AccruedPenalty += models.Scale(p.Price, e.cfg.PenaltyRate)
					at := now
					p.LastPenaltyAt = &at
				}
			}
		}
	}

	// Step 3: repossess once the inactive grace period is exhausted. This
	// ends the ownership episode; the property returns to the unowned pool.
	if p.InactiveSince != nil && now.Sub(*p.InactiveSince) >= e.cfg.InactiveGracePeriod {
		p.OwnerID = nil
		p.ResetEpisode(now)
		events = append(events, taxEvent{kind: "repossessed"})
	}

	return events
}
