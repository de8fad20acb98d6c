package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parkrow/estates/internal/engine"
	apierrors "github.com/parkrow/estates/internal/errors"
	"github.com/parkrow/estates/internal/models"
)

// AuctionHandler handles auction-related HTTP requests.
type AuctionHandler struct {
	auctions *engine.AuctionEngine
}

// NewAuctionHandler creates a new AuctionHandler instance.
func NewAuctionHandler(auctions *engine.AuctionEngine) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
	}
}

// CreateAuctionRequest is the body for opening an auction.
type CreateAuctionRequest struct {
	AccountID       string `json:"account_id" binding:"required,min=1,max=64"`
	StartingBid     int64  `json:"starting_bid" binding:"required,gt=0"`
	DurationMinutes int    `json:"duration_minutes" binding:"gte=0"`
}

// BidRequest is the body for placing a bid.
type BidRequest struct {
	AccountID string `json:"account_id" binding:"required,min=1,max=64"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
}

// CancelAuctionRequest is the body for cancelling an auction.
type CancelAuctionRequest struct {
	AccountID string `json:"account_id" binding:"required,min=1,max=64"`
	Admin     bool   `json:"admin,omitempty"`
}

// AuctionData is the auction representation in API responses.
type AuctionData struct {
	ApartmentID      string `json:"apartment_id"`
	SellerID         string `json:"seller_id"`
	StartingBid      int64  `json:"starting_bid"`
	CurrentBid       int64  `json:"current_bid,omitempty"`
	CurrentBidderID  string `json:"current_bidder_id,omitempty"`
	TotalBids        int    `json:"total_bids"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// AuctionResponse wraps a single auction.
type AuctionResponse struct {
	Auction AuctionData `json:"auction"`
}

// AuctionListResponse wraps an auction listing.
type AuctionListResponse struct {
	Auctions []AuctionData `json:"auctions"`
	Count    int           `json:"count"`
}

// List handles GET /api/v1/auctions.
func (h *AuctionHandler) List(c *gin.Context) {
	now := time.Now().UTC()
	active := h.auctions.Active()
	out := make([]AuctionData, 0, len(active))
	for i := range active {
		out = append(out, toAuctionDTO(&active[i], now))
	}

	c.JSON(http.StatusOK, AuctionListResponse{
		Auctions: out,
		Count:    len(out),
	})
}

// Get handles GET /api/v1/auctions/:id, keyed by apartment id.
func (h *AuctionHandler) Get(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	a, err := h.auctions.Get(id)
	if err != nil {
		if errors.Is(err, engine.ErrAuctionNotFound) {
			apierrors.NotFound(c, "No active auction for this property")
			return
		}
		apierrors.InternalServerError(c, "Failed to load auction", err)
		return
	}

	c.JSON(http.StatusOK, AuctionResponse{Auction: toAuctionDTO(&a, time.Now().UTC())})
}

// Create handles POST /api/v1/properties/:id/auction.
func (h *AuctionHandler) Create(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req CreateAuctionRequest
	if !bindJSON(c, &req) {
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	a, err := h.auctions.Create(c.Request.Context(), models.AccountID(req.AccountID), id, req.StartingBid, duration)
	if err != nil {
		h.writeAuctionError(c, err, "Failed to create auction")
		return
	}

	c.JSON(http.StatusCreated, AuctionResponse{Auction: toAuctionDTO(&a, time.Now().UTC())})
}

// Bid handles POST /api/v1/auctions/:id/bids.
func (h *AuctionHandler) Bid(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req BidRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.auctions.Bid(c.Request.Context(), models.AccountID(req.AccountID), id, req.Amount)
	if err != nil {
		h.writeAuctionError(c, err, "Failed to place bid")
		return
	}

	c.JSON(http.StatusOK, AuctionResponse{Auction: toAuctionDTO(&a, time.Now().UTC())})
}

// Cancel handles POST /api/v1/auctions/:id/cancel.
func (h *AuctionHandler) Cancel(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req CancelAuctionRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.auctions.Cancel(c.Request.Context(), models.AccountID(req.AccountID), id, req.Admin); err != nil {
		h.writeAuctionError(c, err, "Failed to cancel auction")
		return
	}

	c.Status(http.StatusNoContent)
}

// toAuctionDTO converts an auction snapshot to its API representation.
func toAuctionDTO(a *models.Auction, now time.Time) AuctionData {
	dto := AuctionData{
		ApartmentID: string(a.ApartmentID),
		SellerID:    string(a.OwnerID),
		StartingBid: a.StartingBid,
		TotalBids:   a.TotalBids,
		StartTime:   a.StartTime.Format(time.RFC3339),
		EndTime:     a.EndTime.Format(time.RFC3339),
	}
	if remaining := a.Remaining(now); remaining > 0 {
		dto.RemainingSeconds = int64(remaining.Seconds())
	}
	if a.HasBids() {
		dto.CurrentBid = a.CurrentBid
	}
	if a.CurrentBidderID != nil {
		dto.CurrentBidderID = string(*a.CurrentBidderID)
	}
	return dto
}

// writeAuctionError maps auction engine errors to HTTP error responses.
func (h *AuctionHandler) writeAuctionError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrAuctionNotFound):
		apierrors.NotFound(c, "No active auction for this property")
	case errors.Is(err, engine.ErrAuctionExists):
		apierrors.Conflict(c, "This property is already being auctioned")
	case errors.Is(err, engine.ErrNotOwner), errors.Is(err, engine.ErrNotSeller):
		apierrors.Forbidden(c, err.Error())
	case errors.Is(err, engine.ErrSelfBid):
		apierrors.Forbidden(c, "Sellers cannot bid on their own auction")
	case errors.Is(err, engine.ErrInsufficientFunds):
		apierrors.PaymentRequired(c, "Insufficient funds")
	case errors.Is(err, engine.ErrTaxDelinquent),
		errors.Is(err, engine.ErrOnCooldown),
		errors.Is(err, engine.ErrAlreadyHighest),
		errors.Is(err, engine.ErrAuctionEnded),
		errors.Is(err, engine.ErrHasBids):
		apierrors.Conflict(c, err.Error())
	case errors.Is(err, engine.ErrInvalidStartBid),
		errors.Is(err, engine.ErrDurationTooLong),
		errors.Is(err, engine.ErrBidTooLow):
		apierrors.BadRequest(c, err.Error(), nil)
	default:
		apierrors.InternalServerError(c, fallback, err)
	}
}
