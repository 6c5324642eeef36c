// Package api exposes the fraud core over HTTP for the checkout pipeline.
// The core itself is an in-process library; this layer only binds,
// validates, and translates.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud"
	"github.com/veloria/fraudguard/internal/fraud/assessor"
	"github.com/veloria/fraudguard/internal/fraud/device"
	"github.com/veloria/fraudguard/internal/fraud/history"
	"github.com/veloria/fraudguard/internal/fraud/response"
	"github.com/veloria/fraudguard/pkg/metrics"
)

// Handlers wires the three engines behind the HTTP surface.
type Handlers struct {
	assessor  *assessor.Assessor
	validator *device.Validator
	engine    *response.Engine
	recorder  history.Recorder
	logger    *zap.Logger
}

func NewHandlers(a *assessor.Assessor, v *device.Validator, e *response.Engine, rec history.Recorder, logger *zap.Logger) *Handlers {
	return &Handlers{
		assessor:  a,
		validator: v,
		engine:    e,
		recorder:  rec,
		logger:    logger.Named("api"),
	}
}

// AssessRequest is the payload for POST /v1/assess.
type AssessRequest struct {
	UserID            string             `json:"user_id"`
	IPAddress         string             `json:"ip_address" binding:"required,ip"`
	UserAgent         string             `json:"user_agent"`
	DeviceFingerprint string             `json:"device_fingerprint"`
	CartID            string             `json:"cart_id"`
	Operation         OperationPayload   `json:"operation" binding:"required"`
	CartItems         []CartItemPayload  `json:"cart_items" binding:"omitempty,dive"`
	Geolocation       *GeoPayload        `json:"geolocation"`
	Endpoint          string             `json:"endpoint"`
	EntityType        string             `json:"entity_type"`
	EntityID          string             `json:"entity_id"`
}

type OperationPayload struct {
	Type          string          `json:"type" binding:"required"`
	Quantity      int             `json:"quantity" binding:"gte=0"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
}

type CartItemPayload struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"gte=0"`
}

type GeoPayload struct {
	Country   string  `json:"country" binding:"required,len=2"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude" binding:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" binding:"gte=-180,lte=180"`
}

// AssessResponse bundles the assessment with the response taken on it.
type AssessResponse struct {
	Assessment *fraud.RiskAssessment `json:"assessment"`
	Response   *fraud.Response       `json:"response"`
}

// Assess scores the operation, executes the threat response, and records
// the operation into the event history for future assessments.
func (h *Handlers) Assess(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dc := &fraud.DetectionContext{
		UserID:            req.UserID,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		CartID:            req.CartID,
		Operation: fraud.Operation{
			Type:          req.Operation.Type,
			Quantity:      req.Operation.Quantity,
			Price:         req.Operation.Price,
			OriginalPrice: req.Operation.OriginalPrice,
		},
		Timestamp: time.Now().UTC(),
	}
	for _, item := range req.CartItems {
		dc.CartItems = append(dc.CartItems, fraud.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if req.Geolocation != nil {
		dc.Geolocation = &fraud.Geolocation{
			Country:   req.Geolocation.Country,
			City:      req.Geolocation.City,
			Latitude:  req.Geolocation.Latitude,
			Longitude: req.Geolocation.Longitude,
		}
	}

	assessment := h.assessor.Assess(c.Request.Context(), dc)
	resp := h.engine.ExecuteResponse(c.Request.Context(), assessment, &fraud.ResponseContext{
		UserID:     req.UserID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Endpoint:   req.Endpoint,
		Operation:  req.Operation.Type,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	})

	h.recordEvent(c, dc, assessment)

	c.JSON(http.StatusOK, AssessResponse{Assessment: assessment, Response: resp})
}

// recordEvent appends the scored operation to the event history so later
// velocity/behavior checks see it. The current operation is recorded
// after scoring and is never counted against itself.
func (h *Handlers) recordEvent(c *gin.Context, dc *fraud.DetectionContext, a *fraud.RiskAssessment) {
	if h.recorder == nil {
		return
	}
	e := history.Event{
		ActorID:           dc.UserID,
		IPAddress:         dc.IPAddress,
		DeviceFingerprint: dc.DeviceFingerprint,
		Action:            history.ActionOperation,
		Module:            "checkout",
		OperationType:     dc.Operation.Type,
		CreatedAt:         dc.Timestamp,
	}
	if dc.Geolocation != nil {
		e.Country = dc.Geolocation.Country
		e.Latitude = dc.Geolocation.Latitude
		e.Longitude = dc.Geolocation.Longitude
	}
	if err := h.recorder.Append(c.Request.Context(), e); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("history").Inc()
		h.logger.Error("failed to record operation event", zap.Error(err))
	}
	if a.ShouldBlock {
		blockedEvent := e
		blockedEvent.Action = history.ActionBlocked
		if err := h.recorder.Append(c.Request.Context(), blockedEvent); err != nil {
			h.logger.Error("failed to record blocked event", zap.Error(err))
		}
	}
}

// Fingerprint generates a device fingerprint from raw signals.
func (h *Handlers) Fingerprint(c *gin.Context) {
	var data device.Data
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.validator.Generate(data))
}

// ValidateFingerprintRequest is the payload for POST /v1/fingerprint/validate.
type ValidateFingerprintRequest struct {
	Current device.Fingerprint   `json:"current" binding:"required"`
	History []device.Fingerprint `json:"history"`
}

// ValidateFingerprint checks a fingerprint's consistency against history.
func (h *Handlers) ValidateFingerprint(c *gin.Context) {
	var req ValidateFingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.validator.Validate(req.Current, req.History))
}

// Statistics returns the current block-state summary.
func (h *Handlers) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Statistics(c.Request.Context()))
}

// ReleaseBlock lifts a block by identifier.
func (h *Handlers) ReleaseBlock(c *gin.Context) {
	identifier := c.Param("identifier")
	if err := h.engine.ReleaseBlock(c.Request.Context(), identifier); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": identifier})
}

// Health is the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
