package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/middleware"
	"github.com/kaajbazar/service-booking/internal/platform/response"
)

// CommissionHandler handles HTTP requests for commission rates and settings.
type CommissionHandler struct {
	service *application.CommissionService
}

// NewCommissionHandler creates a new CommissionHandler.
func NewCommissionHandler(service *application.CommissionService) *CommissionHandler {
	return &CommissionHandler{service: service}
}

// RegisterRoutes registers commission routes.
func (h *CommissionHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	commissions := r.Group("/api/v1/commissions")
	commissions.Use(authMW)
	{
		commissions.GET("/percent", h.GetPercent)
		commissions.GET("/calculate", h.Calculate)
		commissions.GET("/bookings/:id", h.CalculateForBooking)
	}

	settings := r.Group("/api/v1/admin/commission-settings")
	settings.Use(authMW, middleware.RequireRole(auth.RoleAdmin))
	{
		settings.GET("", h.ListSettings)
		settings.POST("", h.CreateSetting)
		settings.PUT("/:id", h.UpdateSetting)
		settings.DELETE("/:id", h.DeleteSetting)
	}
}

// GetPercent handles GET /api/v1/commissions/percent?category_id=.
func (h *CommissionHandler) GetPercent(c *gin.Context) {
	categoryID, ok := optionalUUIDQuery(c, "category_id")
	if !ok {
		return
	}

	percent, err := h.service.GetCommissionPercent(c.Request.Context(), categoryID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"category_id": categoryID, "percent": percent})
}

// Calculate handles GET /api/v1/commissions/calculate?amount=&category_id=.
func (h *CommissionHandler) Calculate(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		response.BadRequest(c, "amount must be an integer in poisha")
		return
	}
	categoryID, ok := optionalUUIDQuery(c, "category_id")
	if !ok {
		return
	}

	result, err := h.service.CalculateCommission(c.Request.Context(), amount, categoryID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CalculateForBooking handles GET /api/v1/commissions/bookings/:id.
func (h *CommissionHandler) CalculateForBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.service.CalculateCommissionForBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ListSettings handles GET /api/v1/admin/commission-settings.
func (h *CommissionHandler) ListSettings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	result, err := h.service.ListCommissionSettings(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CreateSetting handles POST /api/v1/admin/commission-settings.
func (h *CommissionHandler) CreateSetting(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req application.CreateCommissionSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateCommissionSetting(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// UpdateSetting handles PUT /api/v1/admin/commission-settings/:id.
func (h *CommissionHandler) UpdateSetting(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "commission setting")
	if !ok {
		return
	}

	var req application.UpdateCommissionSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateCommissionSetting(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DeleteSetting handles DELETE /api/v1/admin/commission-settings/:id.
func (h *CommissionHandler) DeleteSetting(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "commission setting")
	if !ok {
		return
	}

	if err := h.service.DeleteCommissionSetting(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"deleted": true})
}
