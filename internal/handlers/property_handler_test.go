package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkrow/estates/internal/buff"
	"github.com/parkrow/estates/internal/config"
	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/engine"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
	"github.com/parkrow/estates/internal/services"
)

// apiFixture wires the full handler stack over in-memory ports.
type apiFixture struct {
	router   *gin.Engine
	registry *registry.Registry
	ledger   *currency.MemoryLedger
	auctions *engine.AuctionEngine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New("test")
	f := &apiFixture{
		registry: registry.New(log),
		ledger:   currency.NewMemoryLedger(),
	}
	buffs := buff.NewStaticProvider()
	notifier := engine.NewLogNotifier(log)

	economy := config.EconomyConfig{
		MaxPropertiesPerAccount: 2,
		ResaleRate:              0.5,
		FlushInterval:           time.Minute,
		Levels:                  config.DefaultLevels(),
		Tax: config.TaxConfig{
			TickInterval:        time.Minute,
			GracePeriod:         3 * 24 * time.Hour,
			InactiveGracePeriod: 3 * 24 * time.Hour,
			PenaltyRate:         0.25,
		},
		Auction: config.AuctionConfig{
			MinIncrement:    100,
			CommissionRate:  0.1,
			DefaultDuration: 24 * time.Hour,
			MaxDuration:     48 * time.Hour,
			SnipeWindow:     5 * time.Minute,
			SnipeExtension:  10 * time.Minute,
			SweepInterval:   time.Minute,
		},
	}
	timing := models.TaxTiming{
		GracePeriod:         economy.Tax.GracePeriod,
		InactiveGracePeriod: economy.Tax.InactiveGracePeriod,
	}

	f.auctions = engine.NewAuctionEngine(log, f.registry, f.ledger, buffs, notifier, economy.Auction)
	svc := services.NewEstateService(log, f.registry, f.ledger, buffs, f.auctions, economy, timing)

	propertyHandler := NewPropertyHandler(svc)
	auctionHandler := NewAuctionHandler(f.auctions)

	f.router = gin.New()
	v1 := f.router.Group("/api/v1")
	properties := v1.Group("/properties")
	properties.GET("", propertyHandler.List)
	properties.POST("", propertyHandler.Create)
	properties.GET("/:id", propertyHandler.Get)
	properties.DELETE("/:id", propertyHandler.Delete)
	properties.GET("/:id/status", propertyHandler.Status)
	properties.POST("/:id/buy", propertyHandler.Buy)
	properties.POST("/:id/sell", propertyHandler.Sell)
	properties.POST("/:id/claim-income", propertyHandler.ClaimIncome)
	properties.POST("/:id/pay-tax", propertyHandler.PayTax)
	properties.POST("/:id/upgrade", propertyHandler.Upgrade)
	properties.POST("/:id/rating", propertyHandler.Rate)
	properties.POST("/:id/guestbook", propertyHandler.SignGuestbook)
	properties.POST("/:id/auction", auctionHandler.Create)
	auctions := v1.Group("/auctions")
	auctions.GET("", auctionHandler.List)
	auctions.GET("/:id", auctionHandler.Get)
	auctions.POST("/:id/bids", auctionHandler.Bid)
	auctions.POST("/:id/cancel", auctionHandler.Cancel)

	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedProperty(t *testing.T, id models.PropertyID, price int64) {
	t.Helper()
	require.NoError(t, f.registry.Create(models.Property{
		ID:            id,
		Price:         price,
		BaseTax:       price / 10,
		TaxPeriodDays: 3,
	}))
}

func TestPropertyHandler_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/properties", gin.H{
		"id": "A1", "region": "harbor", "price": 10000, "base_tax": 1000, "tax_period_days": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate ids conflict.
	w = f.do(t, http.MethodPost, "/api/v1/properties", gin.H{
		"id": "A1", "price": 10000, "base_tax": 1000, "tax_period_days": 3,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/properties/A1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PropertyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A1", resp.Property.ID)
	assert.Equal(t, "harbor", resp.Property.Region)
	assert.Equal(t, "active", resp.Property.TaxStatus)
	assert.Empty(t, resp.Property.OwnerID)

	w = f.do(t, http.MethodGet, "/api/v1/properties/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPropertyHandler_CreateValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/properties", gin.H{
		"id": "A1", "price": -5, "tax_period_days": 3,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPropertyHandler_BuyFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 15000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PropertyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Property.OwnerID)
	assert.Equal(t, int64(5000), f.ledger.Balance("alice"))

	// A second buyer hits a conflict, a broke buyer 402.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	f.seedProperty(t, "A2", 10000)
	w = f.do(t, http.MethodPost, "/api/v1/properties/A2/buy", gin.H{"account_id": "bob"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// Missing body is a validation error.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A2/buy", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPropertyHandler_SellAndClaim(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 10000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	// Nothing pending yet.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/claim-income", gin.H{"account_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := f.registry.Update("A1", func(p *models.Property) error {
		p.PendingIncome = 300
		return nil
	})
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/claim-income", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var pay PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pay))
	assert.Equal(t, int64(300), pay.Amount)

	// A stranger cannot sell it.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/sell", gin.H{"account_id": "bob"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/sell", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pay))
	assert.Equal(t, int64(5000), pay.Amount)
}

func TestPropertyHandler_PayTaxAndStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 20000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/properties/A1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"active"}`, w.Body.String())

	// No taxes due yet.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/pay-tax", gin.H{"account_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := f.registry.Update("A1", func(p *models.Property) error {
		p.Invoices = append(p.Invoices, models.TaxInvoice{ID: "inv-1", Amount: 1000, CreatedAt: time.Now().UTC()})
		return nil
	})
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/api/v1/properties/A1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"overdue"}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/pay-tax", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var pay PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pay))
	assert.Equal(t, int64(1000), pay.Amount)
}

func TestPropertyHandler_UpgradeRatingGuestbook(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 20000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/upgrade", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp PropertyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Property.Level)

	// Owners cannot rate their own place; visitors can.
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/rating", gin.H{"account_id": "alice", "stars": 5})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/rating", gin.H{"account_id": "bob", "stars": 4})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/rating", gin.H{"account_id": "bob", "stars": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/guestbook", gin.H{"account_id": "bob", "message": "great view"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/properties/A1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Property.RatingCount)
	assert.Equal(t, 1, resp.Property.GuestbookCount)
	assert.InDelta(t, 4.0, resp.Property.AverageRating, 0.001)
}

func TestPropertyHandler_ListFilters(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 100)
	f.seedProperty(t, "A2", 100)
	f.ledger.SetBalance("alice", 100)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/properties?unowned=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list PropertyListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "A2", list.Properties[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/properties?owner=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "A1", list.Properties[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/properties?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPropertyHandler_DeleteBlockedByAuction(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProperty(t, "A1", 10000)
	f.ledger.SetBalance("alice", 10000)

	w := f.do(t, http.MethodPost, "/api/v1/properties/A1/buy", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/properties/A1/auction", gin.H{"account_id": "alice", "starting_bid": 1000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/v1/properties/A1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/auctions/A1/cancel", gin.H{"account_id": "alice"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/properties/A1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
