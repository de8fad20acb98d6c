package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/parkrow/estates/internal/errors"
	"github.com/parkrow/estates/internal/middleware"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/services"
)

// PropertyHandler handles property-related HTTP requests.
type PropertyHandler struct {
	service services.EstateService
}

// NewPropertyHandler creates a new PropertyHandler instance.
func NewPropertyHandler(service services.EstateService) *PropertyHandler {
	return &PropertyHandler{
		service: service,
	}
}

// AccountRequest carries the acting account for property operations.
type AccountRequest struct {
	AccountID string `json:"account_id" binding:"required,min=1,max=64"`
}

// RateRequest is the body for the rating endpoint.
type RateRequest struct {
	AccountID string `json:"account_id" binding:"required,min=1,max=64"`
	Stars     int    `json:"stars" binding:"required,min=1,max=5"`
}

// GuestbookRequest is the body for the guestbook endpoint.
type GuestbookRequest struct {
	AccountID string `json:"account_id" binding:"required,min=1,max=64"`
	Message   string `json:"message" binding:"required,min=1,max=240"`
}

// CreatePropertyRequest is the body for the administrative create endpoint.
type CreatePropertyRequest struct {
	ID            string `json:"id" binding:"required,min=1,max=64"`
	Region        string `json:"region,omitempty"`
	World         string `json:"world,omitempty"`
	Price         int64  `json:"price" binding:"required,gt=0"`
	BaseTax       int64  `json:"base_tax" binding:"gte=0"`
	TaxPeriodDays int    `json:"tax_period_days" binding:"required,gte=1"`
}

// ListPropertiesRequest represents the query parameters for the list endpoint.
type ListPropertiesRequest struct {
	Owner   string `form:"owner,omitempty"`
	Unowned bool   `form:"unowned,omitempty"`
	Status  string `form:"status,omitempty"`
}

// PropertyData is the property representation in API responses.
type PropertyData struct {
	ID             string  `json:"id"`
	Region         string  `json:"region,omitempty"`
	World          string  `json:"world,omitempty"`
	OwnerID        string  `json:"owner_id,omitempty"`
	Price          int64   `json:"price"`
	BaseTax        int64   `json:"base_tax"`
	TaxPeriodDays  int     `json:"tax_period_days"`
	Level          int     `json:"level"`
	PendingIncome  int64   `json:"pending_income"`
	TaxStatus      string  `json:"tax_status"`
	UnpaidTaxes    int64   `json:"unpaid_taxes"`
	AccruedPenalty int64   `json:"accrued_penalty"`
	AverageRating  float64 `json:"average_rating,omitempty"`
	RatingCount    int     `json:"rating_count"`
	GuestbookCount int     `json:"guestbook_count"`
}

// PropertyResponse wraps a single property.
type PropertyResponse struct {
	Property PropertyData `json:"property"`
}

// PropertyListResponse wraps a property listing.
type PropertyListResponse struct {
	Properties []PropertyData `json:"properties"`
	Count      int            `json:"count"`
}

// PaymentResponse reports the amount moved by a currency operation.
type PaymentResponse struct {
	Amount int64 `json:"amount"`
}

// List handles GET /api/v1/properties.
// Supports filtering by owner, unowned pool, and derived tax status.
func (h *PropertyHandler) List(c *gin.Context) {
	var req ListPropertiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	filter := services.ListFilter{Unowned: req.Unowned}
	if req.Owner != "" {
		owner := models.AccountID(req.Owner)
		filter.Owner = &owner
	}
	if req.Status != "" {
		status, ok := models.ParseTaxStatus(req.Status)
		if !ok {
			apierrors.BadRequest(c, "Unknown tax status", map[string]interface{}{
				"status": req.Status,
			})
			return
		}
		filter.Status = &status
	}

	now := time.Now().UTC()
	props := h.service.ListProperties(filter)
	out := make([]PropertyData, 0, len(props))
	for i := range props {
		out = append(out, h.toDTO(&props[i], now))
	}

	c.JSON(http.StatusOK, PropertyListResponse{
		Properties: out,
		Count:      len(out),
	})
}

// Get handles GET /api/v1/properties/:id.
func (h *PropertyHandler) Get(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	p, err := h.service.GetProperty(id)
	if err != nil {
		if errors.Is(err, services.ErrPropertyNotFound) {
			apierrors.NotFound(c, "Property not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to load property", err)
		return
	}

	c.JSON(http.StatusOK, PropertyResponse{Property: h.toDTO(&p, time.Now().UTC())})
}

// Buy handles POST /api/v1/properties/:id/buy.
func (h *PropertyHandler) Buy(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.service.Buy(c.Request.Context(), models.AccountID(req.AccountID), id)
	if err != nil {
		h.writeServiceError(c, err, "Failed to buy property")
		return
	}

	c.JSON(http.StatusOK, PropertyResponse{Property: h.toDTO(&p, time.Now().UTC())})
}

// Sell handles POST /api/v1/properties/:id/sell.
func (h *PropertyHandler) Sell(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	refund, err := h.service.Sell(c.Request.Context(), models.AccountID(req.AccountID), id)
	if err != nil {
		h.writeServiceError(c, err, "Failed to sell property")
		return
	}

	c.JSON(http.StatusOK, PaymentResponse{Amount: refund})
}

// ClaimIncome handles POST /api/v1/properties/:id/claim-income.
func (h *PropertyHandler) ClaimIncome(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	claimed, err := h.service.ClaimIncome(c.Request.Context(), models.AccountID(req.AccountID), id)
	if err != nil {
		h.writeServiceError(c, err, "Failed to claim income")
		return
	}

	c.JSON(http.StatusOK, PaymentResponse{Amount: claimed})
}

// PayTax handles POST /api/v1/properties/:id/pay-tax.
func (h *PropertyHandler) PayTax(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	paid, err := h.service.PayTax(c.Request.Context(), models.AccountID(req.AccountID), id)
	if err != nil {
		h.writeServiceError(c, err, "Failed to pay taxes")
		return
	}

	c.JSON(http.StatusOK, PaymentResponse{Amount: paid})
}

// Upgrade handles POST /api/v1/properties/:id/upgrade.
func (h *PropertyHandler) Upgrade(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req AccountRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.service.Upgrade(c.Request.Context(), models.AccountID(req.AccountID), id)
	if err != nil {
		h.writeServiceError(c, err, "Failed to upgrade property")
		return
	}

	c.JSON(http.StatusOK, PropertyResponse{Property: h.toDTO(&p, time.Now().UTC())})
}

// Rate handles POST /api/v1/properties/:id/rating.
func (h *PropertyHandler) Rate(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req RateRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.service.Rate(c.Request.Context(), models.AccountID(req.AccountID), id, req.Stars); err != nil {
		h.writeServiceError(c, err, "Failed to rate property")
		return
	}

	c.Status(http.StatusNoContent)
}

// SignGuestbook handles POST /api/v1/properties/:id/guestbook.
func (h *PropertyHandler) SignGuestbook(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	var req GuestbookRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.service.SignGuestbook(c.Request.Context(), models.AccountID(req.AccountID), id, req.Message); err != nil {
		h.writeServiceError(c, err, "Failed to sign guestbook")
		return
	}

	c.Status(http.StatusNoContent)
}

// Status handles GET /api/v1/properties/:id/status.
func (h *PropertyHandler) Status(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	status, err := h.service.TaxStatus(id, time.Now().UTC())
	if err != nil {
		h.writeServiceError(c, err, "Failed to derive tax status")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

// Create handles POST /api/v1/properties. Administrative.
func (h *PropertyHandler) Create(c *gin.Context) {
	log := middleware.GetLogger(c)

	var req CreatePropertyRequest
	if !bindJSON(c, &req) {
		return
	}

	if log != nil {
		log.Info("Creating property", map[string]interface{}{
			"property_id": req.ID,
			"price":       req.Price,
		})
	}

	p, err := h.service.CreateProperty(c.Request.Context(), services.CreatePropertyInput{
		ID:            models.PropertyID(req.ID),
		Region:        req.Region,
		World:         req.World,
		Price:         req.Price,
		BaseTax:       req.BaseTax,
		TaxPeriodDays: req.TaxPeriodDays,
	})
	if err != nil {
		h.writeServiceError(c, err, "Failed to create property")
		return
	}

	c.JSON(http.StatusCreated, PropertyResponse{Property: h.toDTO(&p, time.Now().UTC())})
}

// Delete handles DELETE /api/v1/properties/:id. Administrative.
func (h *PropertyHandler) Delete(c *gin.Context) {
	id := models.PropertyID(c.Param("id"))

	if err := h.service.RemoveProperty(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, err, "Failed to remove property")
		return
	}

	c.Status(http.StatusNoContent)
}

// toDTO converts a property snapshot to its API representation.
func (h *PropertyHandler) toDTO(p *models.Property, now time.Time) PropertyData {
	dto := PropertyData{
		ID:             string(p.ID),
		Region:         p.Region,
		World:          p.World,
		Price:          p.Price,
		BaseTax:        p.BaseTax,
		TaxPeriodDays:  p.TaxPeriodDays,
		Level:          p.Level,
		PendingIncome:  p.PendingIncome,
		TaxStatus:      h.service.StatusOf(p, now).String(),
		UnpaidTaxes:    p.UnpaidTotal(),
		AccruedPenalty: p.AccruedPenalty,
		RatingCount:    len(p.Ratings),
		GuestbookCount: len(p.Guestbook),
	}
	if p.OwnerID != nil {
		dto.OwnerID = string(*p.OwnerID)
	}
	if avg, ok := p.AverageRating(); ok {
		dto.AverageRating = avg
	}
	return dto
}

// writeServiceError maps service-level errors to HTTP error responses.
func (h *PropertyHandler) writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrPropertyNotFound):
		apierrors.NotFound(c, "Property not found")
	case errors.Is(err, services.ErrPropertyExists):
		apierrors.Conflict(c, "A property with this id already exists")
	case errors.Is(err, services.ErrAlreadyOwned),
		errors.Is(err, services.ErrAuctioned),
		errors.Is(err, services.ErrTaxDelinquent),
		errors.Is(err, services.ErrOwnershipLimit),
		errors.Is(err, services.ErrMaxLevel):
		apierrors.Conflict(c, err.Error())
	case errors.Is(err, services.ErrNotOwner),
		errors.Is(err, services.ErrOwnRating):
		apierrors.Forbidden(c, err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		apierrors.PaymentRequired(c, "Insufficient funds")
	case errors.Is(err, services.ErrNothingToClaim),
		errors.Is(err, services.ErrNoTaxDue),
		errors.Is(err, services.ErrInvalidRating),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrInvalidProperty):
		apierrors.BadRequest(c, err.Error(), nil)
	default:
		apierrors.InternalServerError(c, fallback, err)
	}
}

// bindJSON binds the request body and writes the error response on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return false
	}
	return true
}
