package models

import "time"

// TaxStatus is the derived delinquency state of a property. It is never
// stored; it is computed on demand from invoice age and the inactive marker.
// The ordering is by severity: a property's status only worsens as unpaid
// time grows.
type TaxStatus int

const (
	// TaxStatusActive means all invoices are paid or none are past due yet.
	TaxStatusActive TaxStatus = iota
	// TaxStatusOverdue means at least one invoice is unpaid but still within
	// the post-due grace window. Income continues to accrue.
	TaxStatusOverdue
	// TaxStatusInactive means the grace window has been exhausted. Income is
	// suspended and penalties accrue.
	TaxStatusInactive
	// TaxStatusRepossession means the inactive grace period is exhausted and
	// the property will be reclaimed on the next tax tick.
	TaxStatusRepossession
)

// String returns the lowercase wire name of the status.
func (s TaxStatus) String() string {
	switch s {
	case TaxStatusActive:
		return "active"
	case TaxStatusOverdue:
		return "overdue"
	case TaxStatusInactive:
		return "inactive"
	case TaxStatusRepossession:
		return "repossession"
	default:
		return "unknown"
	}
}

// ParseTaxStatus converts a wire name back to a TaxStatus.
func ParseTaxStatus(s string) (TaxStatus, bool) {
	switch s {
	case "active":
		return TaxStatusActive, true
	case "overdue":
		return TaxStatusOverdue, true
	case "inactive":
		return TaxStatusInactive, true
	case "repossession":
		return TaxStatusRepossession, true
	default:
		return TaxStatusActive, false
	}
}

// TaxTiming holds the thresholds ComputeTaxStatus needs. GracePeriod is how
// long an invoice may stay unpaid past creation before the property goes
// inactive; InactiveGracePeriod is how long a property may stay inactive
// before it is repossessed.
type TaxTiming struct {
	GracePeriod         time.Duration
	InactiveGracePeriod time.Duration
}

// ComputeTaxStatus derives the delinquency status of a property at the given
// instant. It is a pure function: no state is mutated, so GUIs and commands
// can call it freely against a snapshot.
//
// When the tax engine has already stamped InactiveSince, that timestamp is
// authoritative for the inactive and repossession transitions. Before the
// engine has run, the status is derived from the oldest unpaid invoice age
// alone, which keeps the result monotonically non-improving over time.
func ComputeTaxStatus(p *Property, now time.Time, timing TaxTiming) TaxStatus {
	oldest := p.OldestUnpaid()
	if oldest == nil {
		return TaxStatusActive
	}

	if p.InactiveSince != nil {
		if now.Sub(*p.InactiveSince) >= timing.InactiveGracePeriod {
			return TaxStatusRepossession
		}
		return TaxStatusInactive
	}

	age := now.Sub(oldest.CreatedAt)
	switch {
	case age >= timing.GracePeriod+timing.InactiveGracePeriod:
		return TaxStatusRepossession
	case age >= timing.GracePeriod:
		return TaxStatusInactive
	default:
		return TaxStatusOverdue
	}
}
