package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/middleware"
	"github.com/kaajbazar/service-booking/internal/platform/response"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	professional := middleware.RequireRole(auth.RoleProfessional)
	customer := middleware.RequireRole(auth.RoleCustomer)

	bookings := r.Group("/api/v1/bookings")
	bookings.Use(authMW)
	{
		bookings.POST("", customer, h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/stats", h.BookingStats)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/events", h.GetBookingEvents)
		bookings.POST("/:id/accept", professional, h.AcceptBooking)
		bookings.POST("/:id/reject", professional, h.RejectBooking)
		bookings.POST("/:id/check-in", professional, h.CheckIn)
		bookings.POST("/:id/check-out", professional, h.CheckOut)
		bookings.POST("/:id/complete", professional, h.CompleteBooking)
		bookings.POST("/:id/cancel", h.CancelBooking)
		bookings.POST("/:id/payment-intent", customer, h.CreatePaymentIntent)
	}
}

// CreateBooking handles POST /api/v1/bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings. Admins see all bookings, professionals their
// assigned ones and customers the ones they placed.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	result, err := h.service.ListBookings(c.Request.Context(), actor, application.ListBookingsQuery{
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// BookingStats handles GET /api/v1/bookings/stats.
func (h *BookingHandler) BookingStats(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	stats, err := h.service.GetBookingStats(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// GetBooking handles GET /api/v1/bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetBookingEvents handles GET /api/v1/bookings/:id/events.
func (h *BookingHandler) GetBookingEvents(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.service.GetBookingEvents(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AcceptBooking handles POST /api/v1/bookings/:id/accept.
func (h *BookingHandler) AcceptBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.service.AcceptBooking(c.Request.Context(), bookingID, actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RejectBooking handles POST /api/v1/bookings/:id/reject.
func (h *BookingHandler) RejectBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.RejectBooking(c.Request.Context(), bookingID, actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CheckIn handles POST /api/v1/bookings/:id/check-in.
func (h *BookingHandler) CheckIn(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	result, err := h.service.CheckIn(c.Request.Context(), bookingID, actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CheckOut handles POST /api/v1/bookings/:id/check-out.
func (h *BookingHandler) CheckOut(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.HoursRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.CheckOut(c.Request.Context(), bookingID, actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CompleteBooking handles POST /api/v1/bookings/:id/complete.
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.HoursRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.CompleteBooking(c.Request.Context(), bookingID, actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel.
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	var req application.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.CancelBooking(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CreatePaymentIntent handles POST /api/v1/bookings/:id/payment-intent.
func (h *BookingHandler) CreatePaymentIntent(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "booking")
	if !ok {
		return
	}

	intent, err := h.service.CreatePaymentIntent(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, intent)
}
