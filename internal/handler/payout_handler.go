package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/middleware"
	"github.com/kaajbazar/service-booking/internal/platform/response"
)

// PayoutHandler handles HTTP requests for payouts.
type PayoutHandler struct {
	service *application.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(service *application.PayoutService) *PayoutHandler {
	return &PayoutHandler{service: service}
}

// RegisterRoutes registers payout routes. Professionals only ever see their own payouts.
func (h *PayoutHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	payouts := r.Group("/api/v1/payouts")
	payouts.Use(authMW, middleware.RequireRole(auth.RoleProfessional, auth.RoleAdmin))
	{
		payouts.GET("", h.ListPayouts)
		payouts.GET("/:id", h.GetPayout)
	}
}

// ListPayouts handles GET /api/v1/payouts?status=&professional_id=.
func (h *PayoutHandler) ListPayouts(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	professionalID, ok := optionalUUIDQuery(c, "professional_id")
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	result, err := h.service.GetPayouts(c.Request.Context(), actor, application.PayoutQuery{
		ProfessionalID: professionalID,
		Status:         c.Query("status"),
		Page:           page,
		Limit:          limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetPayout handles GET /api/v1/payouts/:id.
func (h *PayoutHandler) GetPayout(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "payout")
	if !ok {
		return
	}

	result, err := h.service.GetPayoutByID(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
