package models

import "time"

// Auction is the bidding aggregate for a single apartment. There is at most
// one active auction per apartment id at any time; the apartment id doubles
// as the auction key.
//
// Invariants: CurrentBid >= StartingBid once TotalBids > 0; CurrentBidderID
// is set exactly when TotalBids > 0; once Ended is set the auction is
// immutable and only awaits removal.
type Auction struct {
	ApartmentID     PropertyID `json:"apartmentId"`
	OwnerID         AccountID  `json:"ownerId"`
	StartingBid     int64      `json:"startingBid"`
	CurrentBid      int64      `json:"currentBid"`
	CurrentBidderID *AccountID `json:"currentBidderId,omitempty"`
	TotalBids       int        `json:"totalBids"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	Ended           bool       `json:"ended"`
}

// HasBids reports whether any bid has been accepted.
func (a *Auction) HasBids() bool {
	return a.TotalBids > 0
}

// MinimumBid returns the lowest acceptable next bid given the configured
// minimum increment.
func (a *Auction) MinimumBid(minIncrement int64) int64 {
	if a.TotalBids == 0 {
		return a.StartingBid
	}
	return a.CurrentBid + minIncrement
}

// Remaining returns the time left before the auction closes. Negative when
// the end time has passed.
func (a *Auction) Remaining(now time.Time) time.Duration {
	return a.EndTime.Sub(now)
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() Auction {
	out := *a
	if a.CurrentBidderID != nil {
		bidder := *a.CurrentBidderID
		out.CurrentBidderID = &bidder
	}
	return out
}
