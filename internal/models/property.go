package models

import (
	"time"
)

// AccountID identifies a player account. Accounts live in external systems
// (the currency ledger, the buff provider); this service only references them.
type AccountID string

// PropertyID identifies an apartment. IDs are assigned administratively and
// never change for the lifetime of the property.
type PropertyID string

// Level bounds for apartment upgrades.
const (
	MinLevel = 1
	MaxLevel = 5
)

// TaxInvoice is a discrete tax bill attached to a property. Invoices are
// created by the tax engine once per tax period and remain on the property
// until paid or until the property is repossessed.
type TaxInvoice struct {
	ID        string     `json:"id"`
	Amount    int64      `json:"amount"`
	CreatedAt time.Time  `json:"createdAt"`
	Paid      bool       `json:"paid"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// GuestbookEntry is a visitor message left on a property. The guestbook is
// cleared whenever ownership changes hands.
type GuestbookEntry struct {
	Author   AccountID `json:"author"`
	Message  string    `json:"message"`
	SignedAt time.Time `json:"signedAt"`
}

// PropertyStats accumulates per-ownership-episode counters. They reset on
// every ownership change (purchase, sale, repossession, auction settlement).
type PropertyStats struct {
	TotalIncomeClaimed int64 `json:"totalIncomeClaimed"`
	TotalTaxPaid       int64 `json:"totalTaxPaid"`
	TotalPenaltyPaid   int64 `json:"totalPenaltyPaid"`
}

// Property is the apartment aggregate. A nil OwnerID means the property is
// unowned and sits in the purchasable pool.
//
// Mutation only happens through the registry's per-id Update, so callers
// always see a consistent copy and never a live view.
type Property struct {
	ID               PropertyID        `json:"id"`
	Region           string            `json:"region,omitempty"`
	World            string            `json:"world,omitempty"`
	OwnerID          *AccountID        `json:"ownerId,omitempty"`
	Price            int64             `json:"price"`
	BaseTax          int64             `json:"baseTax"`
	TaxPeriodDays    int               `json:"taxPeriodDays"`
	Level            int               `json:"level"`
	PendingIncome    int64             `json:"pendingIncome"`
	LastTaxPaymentAt time.Time         `json:"lastTaxPaymentAt"`
	LastPenaltyAt    *time.Time        `json:"lastPenaltyAt,omitempty"`
	InactiveSince    *time.Time        `json:"inactiveSince,omitempty"`
	AccruedPenalty   int64             `json:"accruedPenalty"`
	Invoices         []TaxInvoice      `json:"invoices,omitempty"`
	Ratings          map[AccountID]int `json:"ratings,omitempty"`
	Guestbook        []GuestbookEntry  `json:"guestbook,omitempty"`
	Stats            PropertyStats     `json:"stats"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Owned reports whether the property currently has an owner.
func (p *Property) Owned() bool {
	return p.OwnerID != nil
}

// OwnedBy reports whether the property is owned by the given account.
func (p *Property) OwnedBy(account AccountID) bool {
	return p.OwnerID != nil && *p.OwnerID == account
}

// TaxPeriod returns the property's tax period as a duration.
func (p *Property) TaxPeriod() time.Duration {
	return time.Duration(p.TaxPeriodDays) * 24 * time.Hour
}

// UnpaidInvoices returns the outstanding invoices, oldest first. Invoices are
// appended in creation order so no sort is needed.
func (p *Property) UnpaidInvoices() []TaxInvoice {
	var unpaid []TaxInvoice
	for _, inv := range p.Invoices {
		if !inv.Paid {
			unpaid = append(unpaid, inv)
		}
	}
	return unpaid
}

// UnpaidTotal returns the sum of all outstanding invoice amounts, excluding
// the accrued penalty.
func (p *Property) UnpaidTotal() int64 {
	var total int64
	for _, inv := range p.Invoices {
		if !inv.Paid {
			total += inv.Amount
		}
	}
	return total
}

// OldestUnpaid returns the oldest outstanding invoice, or nil if the
// property is tax-current.
func (p *Property) OldestUnpaid() *TaxInvoice {
	for i := range p.Invoices {
		if !p.Invoices[i].Paid {
			return &p.Invoices[i]
		}
	}
	return nil
}

// MarkAllPaid marks every outstanding invoice as paid at the given time and
// clears the penalty and inactive markers. It returns the total amount that
// was outstanding (invoices plus penalty).
func (p *Property) MarkAllPaid(now time.Time) int64 {
	total := p.AccruedPenalty
	for i := range p.Invoices {
		if p.Invoices[i].Paid {
			continue
		}
		total += p.Invoices[i].Amount
		p.Invoices[i].Paid = true
		at := now
		p.Invoices[i].PaidAt = &at
	}
	p.AccruedPenalty = 0
	p.InactiveSince = nil
	p.LastPenaltyAt = nil
	p.LastTaxPaymentAt = now
	return total
}

// ResetEpisode clears every per-ownership field: pending income, penalties,
// invoices, ratings, guestbook, and stats. Called on repossession, sale, and
// auction settlement so the next owner starts a fresh episode.
func (p *Property) ResetEpisode(now time.Time) {
	p.PendingIncome = 0
	p.AccruedPenalty = 0
	p.InactiveSince = nil
	p.LastPenaltyAt = nil
	p.Invoices = nil
	p.Ratings = nil
	p.Guestbook = nil
	p.Stats = PropertyStats{}
	p.LastTaxPaymentAt = now
}

// Clone returns a deep copy of the property. The registry hands out clones
// so callers can never mutate shared state through a snapshot.
func (p *Property) Clone() Property {
	out := *p
	if p.OwnerID != nil {
		owner := *p.OwnerID
		out.OwnerID = &owner
	}
	if p.LastPenaltyAt != nil {
		t := *p.LastPenaltyAt
		out.LastPenaltyAt = &t
	}
	if p.InactiveSince != nil {
		t := *p.InactiveSince
		out.InactiveSince = &t
	}
	if p.Invoices != nil {
		out.Invoices = make([]TaxInvoice, len(p.Invoices))
		copy(out.Invoices, p.Invoices)
		for i := range out.Invoices {
			if p.Invoices[i].PaidAt != nil {
				t := *p.Invoices[i].PaidAt
				out.Invoices[i].PaidAt = &t
			}
		}
	}
	if p.Ratings != nil {
		out.Ratings = make(map[AccountID]int, len(p.Ratings))
		for k, v := range p.Ratings {
			out.Ratings[k] = v
		}
	}
	if p.Guestbook != nil {
		out.Guestbook = make([]GuestbookEntry, len(p.Guestbook))
		copy(out.Guestbook, p.Guestbook)
	}
	return out
}

// AverageRating returns the mean of all visitor ratings, or 0 with ok=false
// when the property has none.
func (p *Property) AverageRating() (float64, bool) {
	if len(p.Ratings) == 0 {
		return 0, false
	}
	var sum int
	for _, stars := range p.Ratings {
		sum += stars
	}
	return float64(sum) / float64(len(p.Ratings)), true
}
