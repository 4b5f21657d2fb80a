package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/middleware"
	"github.com/kaajbazar/service-booking/internal/platform/response"
)

// GeneratePayoutsRequest is the body of a payout run over [PeriodStart, PeriodEnd).
type GeneratePayoutsRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// AdminSettlementHandler handles admin HTTP requests for payouts and settlement.
type AdminSettlementHandler struct {
	payouts    *application.PayoutService
	settlement *application.SettlementService
}

// NewAdminSettlementHandler creates a new AdminSettlementHandler.
func NewAdminSettlementHandler(payouts *application.PayoutService, settlement *application.SettlementService) *AdminSettlementHandler {
	return &AdminSettlementHandler{payouts: payouts, settlement: settlement}
}

// RegisterRoutes registers admin settlement routes.
func (h *AdminSettlementHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.POST("/payouts/generate", h.GeneratePayouts)

		admin.GET("/settlements/daily", h.DailySummary)
		admin.GET("/settlements/history", h.History)
		admin.GET("/settlements/due", h.Due)
		admin.POST("/settlements/backfill", h.Backfill)
		admin.POST("/settlements/bookings/:id", h.CreateManual)
		admin.POST("/settlements/:id/paid", h.MarkPaid)
		admin.POST("/settlements/:id/failed", h.MarkFailed)

		admin.POST("/bookings/:id/capture", h.CapturePayment)
		admin.POST("/bookings/:id/refund", h.Refund)
	}
}

// GeneratePayouts handles POST /api/v1/admin/payouts/generate.
func (h *AdminSettlementHandler) GeneratePayouts(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req GeneratePayoutsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.payouts.GeneratePayoutsForPeriod(c.Request.Context(), actor, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DailySummary handles GET /api/v1/admin/settlements/daily?date=.
func (h *AdminSettlementHandler) DailySummary(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	date, ok := timeQuery(c, "date")
	if !ok {
		return
	}

	result, err := h.settlement.DailySummary(c.Request.Context(), actor, date)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// History handles GET /api/v1/admin/settlements/history?from=&to=.
func (h *AdminSettlementHandler) History(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	from, ok := timeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	result, err := h.settlement.History(c.Request.Context(), actor, from, to, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// Due handles GET /api/v1/admin/settlements/due.
func (h *AdminSettlementHandler) Due(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	result, err := h.settlement.DueSettlements(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Backfill handles POST /api/v1/admin/settlements/backfill.
func (h *AdminSettlementHandler) Backfill(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req application.BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.settlement.Backfill(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CreateManual handles POST /api/v1/admin/settlements/bookings/:id.
func (h *AdminSettlementHandler) CreateManual(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.ManualSettlementRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.settlement.CreateManualSettlement(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// MarkPaid handles POST /api/v1/admin/settlements/:id/paid.
func (h *AdminSettlementHandler) MarkPaid(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "payout")
	if !ok {
		return
	}

	var req application.MarkPaidRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.settlement.MarkSettlementPaid(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// MarkFailed handles POST /api/v1/admin/settlements/:id/failed.
func (h *AdminSettlementHandler) MarkFailed(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "payout")
	if !ok {
		return
	}

	var req application.MarkFailedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.settlement.MarkSettlementFailed(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CapturePayment handles POST /api/v1/admin/bookings/:id/capture.
func (h *AdminSettlementHandler) CapturePayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.settlement.CaptureBookingPayment(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Refund handles POST /api/v1/admin/bookings/:id/refund.
func (h *AdminSettlementHandler) Refund(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.settlement.TriggerRefund(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
