package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

// Auction-level errors.
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionExists     = errors.New("property already has an active auction")
	ErrNotOwner          = errors.New("property is not owned by this account")
	ErrTaxDelinquent     = errors.New("property has unpaid taxes")
	ErrOnCooldown        = errors.New("auction creation is on cooldown")
	ErrInvalidStartBid   = errors.New("starting bid must be positive")
	ErrDurationTooLong   = errors.New("auction duration exceeds the maximum")
	ErrSelfBid           = errors.New("sellers cannot bid on their own auction")
	ErrAlreadyHighest    = errors.New("account already holds the highest bid")
	ErrBidTooLow         = errors.New("bid below the minimum")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrNotSeller         = errors.New("only the seller may cancel")
	ErrHasBids           = errors.New("auction already has bids")
	ErrAuctionStillOpen  = errors.New("auction has not reached its end time")
	ErrInsufficientFunds = currency.ErrInsufficientFunds
)

// auctionEntry pairs an auction with its own lock, mirroring the registry's
// per-id discipline. open distinguishes a fully created auction from a
// placeholder reserved while the creation fee is being charged.
type auctionEntry struct {
	mu   sync.Mutex
	a    models.Auction
	open bool
}

// payout is an owed transfer that could not be completed when it arose.
// Payouts are retried on every sweep until the ledger accepts them; they are
// never silently dropped.
type payout struct {
	Account     models.AccountID
	Amount      int64
	ApartmentID models.PropertyID
	Reason      string
	Attempts    int
}

// AuctionEngine owns the auction lifecycle: create, bid, cancel, settle.
// Escrow discipline: a bid is withdrawn from the bidder the moment it is
// accepted, and exactly one escrow (the current highest bid) is held per
// auction at any time.
//
// Cross-entity note: settlement mutates both the auction and its property.
// The auction is first marked ended under its own lock, then the property is
// updated with no auction lock held, so the two lock classes never nest.
type AuctionEngine struct {
	log      *logger.Logger
	registry *registry.Registry
	ledger   currency.Ledger
	buffs    buff.Provider
	notifier Notifier
	cfg      config.AuctionConfig

	// clock is injectable for deterministic tests.
	clock func() time.Time

	mu       sync.RWMutex
	auctions map[models.PropertyID]*auctionEntry

	cooldownMu sync.Mutex
	cooldowns  map[models.AccountID]time.Time

	outboxMu sync.Mutex
	outbox   []payout

	dirtyMu sync.Mutex
	dirty   map[models.PropertyID]struct{}
	removed map[models.PropertyID]struct{}
}

// NewAuctionEngine wires an auction engine.
func NewAuctionEngine(
	log *logger.Logger,
	reg *registry.Registry,
	ledger currency.Ledger,
	buffs buff.Provider,
	notifier Notifier,
	cfg config.AuctionConfig,
) *AuctionEngine {
	return &AuctionEngine{
		log:       log,
		registry:  reg,
		ledger:    ledger,
		buffs:     buffs,
		notifier:  notifier,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
		auctions:  make(map[models.PropertyID]*auctionEntry),
		cooldowns: make(map[models.AccountID]time.Time),
		dirty:     make(map[models.PropertyID]struct{}),
		removed:   make(map[models.PropertyID]struct{}),
	}
}

// Create opens an auction for a property the seller owns. The creation fee
// is charged before the auction opens; a failed fee leaves no trace.
func (e *AuctionEngine) Create(ctx context.Context, seller models.AccountID, propertyID models.PropertyID, startingBid int64, duration time.Duration) (models.Auction, error) {
	if startingBid <= 0 {
		return models.Auction{}, ErrInvalidStartBid
	}
	if duration == 0 {
		duration = e.cfg.DefaultDuration
	}
	if duration > e.cfg.MaxDuration {
		return models.Auction{}, fmt.Errorf("%w: %s > %s", ErrDurationTooLong, duration, e.cfg.MaxDuration)
	}

	now := e.clock()
	if until, on := e.cooldownUntil(seller, now); on {
		return models.Auction{}, fmt.Errorf("%w until %s", ErrOnCooldown, until.Format(time.RFC3339))
	}

	prop, err := e.registry.Get(propertyID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("property %s: %w", propertyID, ErrAuctionNotFound)
	}
	if !prop.OwnedBy(seller) {
		return models.Auction{}, ErrNotOwner
	}
	if prop.OldestUnpaid() != nil || prop.InactiveSince != nil {
		return models.Auction{}, ErrTaxDelinquent
	}

	// Reserve the slot before charging the fee so a concurrent create for
	// the same property cannot double-open.
	ent := &auctionEntry{}
	e.mu.Lock()
	if _, exists := e.auctions[propertyID]; exists {
		e.mu.Unlock()
		return models.Auction{}, ErrAuctionExists
	}
	e.auctions[propertyID] = ent
	e.mu.Unlock()

	fee := int64(0)
	if e.cfg.CreationFee > 0 {
		buffs, berr := e.buffs.Get(ctx, seller)
		if berr != nil {
			e.unreserve(propertyID)
			return models.Auction{}, berr
		}
		fee = models.Reduced(e.cfg.CreationFee, buffs.AuctionFeeReduction)
	}
	if fee > 0 {
		if err := e.ledger.Withdraw(ctx, seller, fee); err != nil {
			e.unreserve(propertyID)
			return models.Auction{}, fmt.Errorf("creation fee: %w", err)
		}
	}

	ent.mu.Lock()
	ent.a = models.Auction{
		ApartmentID: propertyID,
		OwnerID:     seller,
		StartingBid: startingBid,
		StartTime:   now,
		EndTime:     now.Add(duration),
	}
	ent.open = true
	a := ent.a.Clone()
	ent.mu.Unlock()

	// Re-read ownership now that the auction is visible. The property lock
	// orders this against any concurrent sale: either the sale saw the open
	// auction and was rejected, or it committed first and is seen here.
	prop, err = e.registry.Get(propertyID)
	if err != nil || !prop.OwnedBy(seller) {
		e.unreserve(propertyID)
		if fee > 0 {
			e.payOrQueue(ctx, seller, fee, propertyID, "creation fee refund")
		}
		return models.Auction{}, ErrNotOwner
	}

	e.setCooldown(seller, now.Add(e.cfg.CreationCooldown))
	e.markDirty(propertyID)
	e.log.Info("auction created", map[string]interface{}{
		"property_id":  string(propertyID),
		"seller":       string(seller),
		"starting_bid": startingBid,
		"ends_at":      a.EndTime,
		"fee":          fee,
	})
	return a, nil
}

// Bid places a bid, escrowing the amount. The previous bidder's escrow is
// refunded; if that refund fails the new bid stands and the refund becomes a
// reconciliation payout rather than a rollback.
func (e *AuctionEngine) Bid(ctx context.Context, bidder models.AccountID, propertyID models.PropertyID, amount int64) (models.Auction, error) {
	ent := e.lookup(propertyID)
	if ent == nil {
		return models.Auction{}, ErrAuctionNotFound
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.open || ent.a.Ended {
		return models.Auction{}, ErrAuctionNotFound
	}
	now := e.clock()
	if !now.Before(ent.a.EndTime) {
		return models.Auction{}, ErrAuctionEnded
	}
	if bidder == ent.a.OwnerID {
		return models.Auction{}, ErrSelfBid
	}
	if ent.a.CurrentBidderID != nil && *ent.a.CurrentBidderID == bidder {
		return models.Auction{}, ErrAlreadyHighest
	}
	if minBid := ent.a.MinimumBid(e.cfg.MinIncrement); amount < minBid {
		return models.Auction{}, fmt.Errorf("%w: need at least %d, got %d", ErrBidTooLow, minBid, amount)
	}

	// Escrow the new bid first; failure here aborts with no state change.
	if err := e.ledger.Withdraw(ctx, bidder, amount); err != nil {
		return models.Auction{}, fmt.Errorf("bid escrow: %w", err)
	}

	// Refund the outbid escrow. A failed refund is an operational fault,
	// not a reason to roll back the new bid: the new escrow is already the
	// authoritative state.
	if prev := ent.a.CurrentBidderID; prev != nil {
		refunded := *prev
		refund := ent.a.CurrentBid
		if err := e.ledger.Deposit(ctx, refunded, refund); err != nil {
			e.log.Severe("outbid refund failed", err, map[string]interface{}{
				"property_id": string(propertyID),
				"account":     string(refunded),
				"amount":      refund,
			})
			e.enqueuePayout(payout{Account: refunded, Amount: refund, ApartmentID: propertyID, Reason: "outbid refund"})
		} else {
			e.notifier.Notify(refunded, fmt.Sprintf("You were outbid on apartment %s; %d refunded", propertyID, refund))
		}
	}

	ent.a.CurrentBid = amount
	b := bidder
	ent.a.CurrentBidderID = &b
	ent.a.TotalBids++

	// Anti-sniping: late bids push the end out, capped so the auction
	// never runs longer than MaxDuration from its start.
	if ent.a.EndTime.Sub(now) < e.cfg.SnipeWindow {
		extended := ent.a.EndTime.Add(e.cfg.SnipeExtension)
		if maxEnd := ent.a.StartTime.Add(e.cfg.MaxDuration); extended.After(maxEnd) {
			extended = maxEnd
		}
		if extended.After(ent.a.EndTime) {
			ent.a.EndTime = extended
		}
	}

	e.markDirty(propertyID)
	e.log.Info("bid accepted", map[string]interface{}{
		"property_id": string(propertyID),
		"bidder":      string(bidder),
		"amount":      amount,
		"total_bids":  ent.a.TotalBids,
	})
	return ent.a.Clone(), nil
}

// Cancel removes an auction. The seller may cancel only while no bids have
// been placed; an administrator may cancel at any point. A held escrow is
// refunded to the current bidder.
func (e *AuctionEngine) Cancel(ctx context.Context, actor models.AccountID, propertyID models.PropertyID, admin bool) error {
	ent := e.lookup(propertyID)
	if ent == nil {
		return ErrAuctionNotFound
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.open || ent.a.Ended {
		return ErrAuctionNotFound
	}
	if !admin {
		if actor != ent.a.OwnerID {
			return ErrNotSeller
		}
		if ent.a.HasBids() {
			return ErrHasBids
		}
	}

	if bidder := ent.a.CurrentBidderID; bidder != nil {
		refund := ent.a.CurrentBid
		if err := e.ledger.Deposit(ctx, *bidder, refund); err != nil {
			e.log.Severe("cancellation refund failed", err, map[string]interface{}{
				"property_id": string(propertyID),
				"account":     string(*bidder),
				"amount":      refund,
			})
			e.enqueuePayout(payout{Account: *bidder, Amount: refund, ApartmentID: propertyID, Reason: "cancellation refund"})
		} else {
			e.notifier.Notify(*bidder, fmt.Sprintf("Auction for apartment %s was cancelled; %d refunded", propertyID, refund))
		}
	}

	ent.a.Ended = true
	e.remove(propertyID)
	e.notifier.Notify(ent.a.OwnerID, fmt.Sprintf("Auction for apartment %s cancelled", propertyID))
	e.log.Info("auction cancelled", map[string]interface{}{
		"property_id": string(propertyID),
		"actor":       string(actor),
		"admin":       admin,
	})
	return nil
}

// Sweep settles every auction whose end time has passed and retries owed
// payouts. Driven by the scheduler.
func (e *AuctionEngine) Sweep(ctx context.Context, now time.Time) {
	e.mu.RLock()
	due := make([]models.PropertyID, 0)
	for id, ent := range e.auctions {
		ent.mu.Lock()
		if ent.open && !ent.a.Ended && !now.Before(ent.a.EndTime) {
			due = append(due, id)
		}
		ent.mu.Unlock()
	}
	e.mu.RUnlock()
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, id := range due {
		if err := e.Settle(ctx, id, now, false); err != nil && !errors.Is(err, ErrAuctionNotFound) {
			e.log.Error("auction settlement failed", err, map[string]interface{}{
				"property_id": string(id),
			})
		}
	}

	e.drainOutbox(ctx)
}

// Settle closes one auction. With a winning bidder the property transfers
// to the winner with a fresh ownership episode and the seller is paid the
// bid minus commission; with no bids the auction is simply removed and the
// property untouched. Settling an already-ended or missing auction returns
// ErrAuctionNotFound and has no effect.
func (e *AuctionEngine) Settle(ctx context.Context, propertyID models.PropertyID, now time.Time, force bool) error {
	ent := e.lookup(propertyID)
	if ent == nil {
		return ErrAuctionNotFound
	}

	ent.mu.Lock()
	if !ent.open || ent.a.Ended {
		ent.mu.Unlock()
		return ErrAuctionNotFound
	}
	if !force && now.Before(ent.a.EndTime) {
		ent.mu.Unlock()
		return ErrAuctionStillOpen
	}
	// Marking ended under the entry lock makes settlement idempotent: any
	// second settler sees Ended and backs off before money moves.
	ent.a.Ended = true
	a := ent.a.Clone()
	ent.mu.Unlock()

	defer e.remove(propertyID)

	if a.CurrentBidderID == nil {
		e.notifier.Notify(a.OwnerID, fmt.Sprintf("Auction for apartment %s ended with no bids", propertyID))
		e.log.Info("auction expired without bids", map[string]interface{}{
			"property_id": string(propertyID),
		})
		return nil
	}

	winner := *a.CurrentBidderID
	_, err := e.registry.Update(propertyID, func(p *models.Property) error {
		w := winner
		p.OwnerID = &w
		p.ResetEpisode(now)
		return nil
	})
	if err != nil {
		// The property vanished mid-auction. The winner's escrow must go
		// back; the seller gets nothing because nothing was sold.
		e.log.Severe("settlement found no property, refunding winner", err, map[string]interface{}{
			"property_id": string(propertyID),
			"winner":      string(winner),
			"amount":      a.CurrentBid,
		})
		e.payOrQueue(ctx, winner, a.CurrentBid, propertyID, "settlement refund")
		return nil
	}

	proceeds := e.sellerProceeds(ctx, a.OwnerID, a.CurrentBid)
	e.payOrQueue(ctx, a.OwnerID, proceeds, propertyID, "seller proceeds")

	e.notifier.Notify(winner, fmt.Sprintf("You won the auction for apartment %s at %d", propertyID, a.CurrentBid))
	e.notifier.Notify(a.OwnerID, fmt.Sprintf("Apartment %s sold at auction for %d; you received %d", propertyID, a.CurrentBid, proceeds))
	e.log.Info("auction settled", map[string]interface{}{
		"property_id": string(propertyID),
		"winner":      string(winner),
		"winning_bid": a.CurrentBid,
		"proceeds":    proceeds,
		"total_bids":  a.TotalBids,
	})
	return nil
}

// sellerProceeds applies the commission, reduced by the seller's commission
// buff, to the winning bid. A buff can shrink the commission to zero but
// never push the payout above the bid.
func (e *AuctionEngine) sellerProceeds(ctx context.Context, seller models.AccountID, bid int64) int64 {
	commission := e.cfg.CommissionRate
	if buffs, err := e.buffs.Get(ctx, seller); err == nil {
		commission -= buffs.AuctionCommissionReduction
	}
	if commission < 0 {
		commission = 0
	}
	return models.Scale(bid, 1-commission)
}

func (e *AuctionEngine) enqueuePayout(p payout) {
	e.outboxMu.Lock()
	e.outbox = append(e.outbox, p)
	e.outboxMu.Unlock()
}

// payOrQueue deposits to the account, or records an owed payout when the
// ledger refuses. Money collected from a winning bidder is never dropped.
func (e *AuctionEngine) payOrQueue(ctx context.Context, account models.AccountID, amount int64, propertyID models.PropertyID, reason string) {
	if amount <= 0 {
		return
	}
	if err := e.ledger.Deposit(ctx, account, amount); err != nil {
		e.log.Severe("payout failed, queued for retry", err, map[string]interface{}{
			"property_id": string(propertyID),
			"account":     string(account),
			"amount":      amount,
			"reason":      reason,
		})
		e.enqueuePayout(payout{Account: account, Amount: amount, ApartmentID: propertyID, Reason: reason})
	}
}

// drainOutbox retries owed payouts. Whatever still fails stays queued for
// the next sweep.
func (e *AuctionEngine) drainOutbox(ctx context.Context) {
	e.outboxMu.Lock()
	pending := e.outbox
	e.outbox = nil
	e.outboxMu.Unlock()

	var still []payout
	for _, p := range pending {
		if err := e.ledger.Deposit(ctx, p.Account, p.Amount); err != nil {
			p.Attempts++
			e.log.Severe("payout retry failed", err, map[string]interface{}{
				"property_id": string(p.ApartmentID),
				"account":     string(p.Account),
				"amount":      p.Amount,
				"reason":      p.Reason,
				"attempts":    p.Attempts,
			})
			still = append(still, p)
			continue
		}
		e.log.Info("queued payout delivered", map[string]interface{}{
			"property_id": string(p.ApartmentID),
			"account":     string(p.Account),
			"amount":      p.Amount,
			"reason":      p.Reason,
		})
	}

	e.outboxMu.Lock()
	e.outbox = append(still, e.outbox...)
	e.outboxMu.Unlock()
}

// PendingPayouts reports how many owed transfers await reconciliation.
func (e *AuctionEngine) PendingPayouts() int {
	e.outboxMu.Lock()
	defer e.outboxMu.Unlock()
	return len(e.outbox)
}

// Get returns a copy of the active auction for a property.
func (e *AuctionEngine) Get(propertyID models.PropertyID) (models.Auction, error) {
	ent := e.lookup(propertyID)
	if ent == nil {
		return models.Auction{}, ErrAuctionNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if !ent.open || ent.a.Ended {
		return models.Auction{}, ErrAuctionNotFound
	}
	return ent.a.Clone(), nil
}

// Active returns a snapshot of all open auctions, sorted by apartment id.
func (e *AuctionEngine) Active() []models.Auction {
	e.mu.RLock()
	entries := make([]*auctionEntry, 0, len(e.auctions))
	for _, ent := range e.auctions {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]models.Auction, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.open && !ent.a.Ended {
			out = append(out, ent.a.Clone())
		}
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApartmentID < out[j].ApartmentID })
	return out
}

// HasActiveAuction reports whether the property is currently auctioned.
func (e *AuctionEngine) HasActiveAuction(propertyID models.PropertyID) bool {
	_, err := e.Get(propertyID)
	return err == nil
}

// LoadFrom restores open auctions from the persistence gateway at startup.
// Ended auctions in the document store are dropped; they only awaited
// removal.
func (e *AuctionEngine) LoadFrom(auctions []models.Auction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auctions = make(map[models.PropertyID]*auctionEntry, len(auctions))
	for i := range auctions {
		if auctions[i].Ended {
			continue
		}
		e.auctions[auctions[i].ApartmentID] = &auctionEntry{
			a:    auctions[i].Clone(),
			open: true,
		}
	}
}

// CollectDirty drains the changed and removed auction ids for the
// persistence flush, mirroring the registry's contract.
func (e *AuctionEngine) CollectDirty() (changed []models.Auction, removed []models.PropertyID) {
	e.dirtyMu.Lock()
	dirtyIDs := make([]models.PropertyID, 0, len(e.dirty))
	for id := range e.dirty {
		dirtyIDs = append(dirtyIDs, id)
	}
	removed = make([]models.PropertyID, 0, len(e.removed))
	for id := range e.removed {
		removed = append(removed, id)
	}
	e.dirty = make(map[models.PropertyID]struct{})
	e.removed = make(map[models.PropertyID]struct{})
	e.dirtyMu.Unlock()

	for _, id := range dirtyIDs {
		if a, err := e.Get(id); err == nil {
			changed = append(changed, a)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ApartmentID < changed[j].ApartmentID })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return changed, removed
}

func (e *AuctionEngine) lookup(propertyID models.PropertyID) *auctionEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.auctions[propertyID]
}

func (e *AuctionEngine) unreserve(propertyID models.PropertyID) {
	e.mu.Lock()
	delete(e.auctions, propertyID)
	e.mu.Unlock()
}

func (e *AuctionEngine) remove(propertyID models.PropertyID) {
	e.mu.Lock()
	delete(e.auctions, propertyID)
	e.mu.Unlock()

	e.dirtyMu.Lock()
	delete(e.dirty, propertyID)
	e.removed[propertyID] = struct{}{}
	e.dirtyMu.Unlock()
}

func (e *AuctionEngine) markDirty(propertyID models.PropertyID) {
	e.dirtyMu.Lock()
	e.dirty[propertyID] = struct{}{}
	e.dirtyMu.Unlock()
}

func (e *AuctionEngine) cooldownUntil(account models.AccountID, now time.Time) (time.Time, bool) {
	if e.cfg.CreationCooldown <= 0 {
		return time.Time{}, false
	}
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()
	until, ok := e.cooldowns[account]
	if !ok || now.After(until) {
		return time.Time{}, false
	}
	return until, true
}

func (e *AuctionEngine) setCooldown(account models.AccountID, until time.Time) {
	if e.cfg.CreationCooldown <= 0 {
		return
	}
	e.cooldownMu.Lock()
	e.cooldowns[account] = until
	e.cooldownMu.Unlock()
}
