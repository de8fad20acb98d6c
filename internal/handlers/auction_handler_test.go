package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedOwnedWithAuction buys A1 for alice and lists it.
func seedOwnedWithAuction(t *testing.T, f *apiFixture) {
	t.Helper()
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 10000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{"account_id": "alice", "starting_bid": 1000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAuctionHandler_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)
	seedOwnedWithAuction(t, f)

	w := f.do(t, http.MethodGet, "/api/v1/auctions/A1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuctionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A1", resp.Auction.ApartmentID)
	assert.Equal(t, "alice", resp.Auction.SellerID)
	assert.Equal(t, int64(1000), resp.Auction.StartingBid)
	assert.Zero(t, resp.Auction.TotalBids)
	assert.Greater(t, resp.Auction.RemainingSeconds, int64(0))

	w = f.do(t, http.MethodGet, "/api/v1/auctions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Double listing conflicts.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{"account_id": "alice", "starting_bid": 500})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuctionHandler_CreateRejections(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 10000)

	// Not the owner yet.
	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{"account_id": "alice", "starting_bid": 1000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	wBuy := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, wBuy.Code)

	// Over the maximum duration.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{
		"account_id": "alice", "starting_bid": 1000, "duration_minutes": 60 * 72,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing starting bid fails binding.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{"account_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuctionHandler_BidFlow(t *testing.T) {
	f := newAPIFixture(t)
	seedOwnedWithAuction(t, f)
	f.ledger.SetBalance("bob", 2000)
	f.ledger.SetBalance("carol", 2000)

	w := f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "bob", "amount": 1000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AuctionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1000), resp.Auction.CurrentBid)
	assert.Equal(t, "bob", resp.Auction.CurrentBidderID)

	// Below the increment.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "carol", "amount": 1050})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Seller self-bid.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "alice", "amount": 1200})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Valid raise refunds bob.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "carol", "amount": 1200})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2000), f.ledger.Balance("bob"))

	// A broke bidder gets 402.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "dave", "amount": 1300})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestAuctionHandler_List(t *testing.T) {
	f := newAPIFixture(t)
	seedOwnedWithAuction(t, f)

	w := f.do(t, http.MethodGet, "/api/v1/auctions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list AuctionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "A1", list.Auctions[0].ApartmentID)
}

func TestAuctionHandler_CancelRules(t *testing.T) {
	f := newAPIFixture(t)
	seedOwnedWithAuction(t, f)
	f.ledger.SetBalance("bob", 2000)

	w := f.do(t, http.MethodPost, "/api/v1/auctions/A1/cancel", gin.H{"account_id": "bob"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	wBid := f.do(t, http.MethodPost, "/api/v1/auctions/A1/bids", gin.H{"account_id": "bob", "amount": 1000})
	require.Equal(t, http.StatusOK, wBid.Code)

	// Seller cannot cancel once bids exist.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/cancel", gin.H{"account_id": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// An administrator can; the escrow comes back.
	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/cancel", gin.H{"account_id": "ops", "admin": true})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(2000), f.ledger.Balance("bob"))
}
