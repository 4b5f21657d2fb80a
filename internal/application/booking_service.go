package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/domain/commission"
	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
	"github.com/kaajbazar/service-booking/internal/platform/metrics"
)

// CreateBookingRequest holds the data needed to create a new booking.
type CreateBookingRequest struct {
	ProfessionalID uuid.UUID `json:"professional_id" validate:"required"`
	CategoryID     uuid.UUID `json:"category_id" validate:"required"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	AddressText    string    `json:"address_text" validate:"required,max=500"`
	Lat            float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng            float64   `json:"lng" validate:"gte=-180,lte=180"`
	PricingModel   string    `json:"pricing_model" validate:"required"`
	QuotedPrice    int64     `json:"quoted_price" validate:"gt=0"`
	Notes          string    `json:"notes" validate:"max=1000"`
}

// ReasonRequest carries an optional free-text reason for reject and cancel.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// HoursRequest carries the hours worked for check-out and completion. When omitted the
// hours are derived from the check-in time.
type HoursRequest struct {
	ActualHours *float64 `json:"actual_hours" validate:"omitempty,gte=0,lte=168"`
}

// ListBookingsQuery filters a booking listing.
type ListBookingsQuery struct {
	Status string
	Page   int
	Limit  int
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID                uuid.UUID             `json:"id"`
	CustomerID        uuid.UUID             `json:"customer_id"`
	ProfessionalID    uuid.UUID             `json:"professional_id"`
	CategoryID        uuid.UUID             `json:"category_id"`
	Status            string                `json:"status"`
	NextStatuses      []string              `json:"next_statuses"`
	ScheduledAt       time.Time             `json:"scheduled_at"`
	Address           bookingDomain.Address `json:"address"`
	Notes             string                `json:"notes,omitempty"`
	PricingModel      string                `json:"pricing_model"`
	QuotedPrice       int64                 `json:"quoted_price"`
	CommissionPercent float64               `json:"commission_percent"`
	FinalAmount       *int64                `json:"final_amount,omitempty"`
	Currency          string                `json:"currency"`
	CheckInAt         *time.Time            `json:"check_in_at,omitempty"`
	CheckOutAt        *time.Time            `json:"check_out_at,omitempty"`
	ActualHours       *float64              `json:"actual_hours,omitempty"`
	CancelReason      string                `json:"cancel_reason,omitempty"`
	PaymentIntentID   string                `json:"payment_intent_id,omitempty"`
	CapturedAmount    int64                 `json:"captured_amount"`
	RefundedAmount    int64                 `json:"refunded_amount"`
	SettledByPayoutID *uuid.UUID            `json:"settled_by_payout_id,omitempty"`
	Version           int64                 `json:"version"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// BookingEventDTO is the response representation of a booking event.
type BookingEventDTO struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// BookingStatsDTO aggregates the caller's bookings.
type BookingStatsDTO struct {
	TotalBookings    int64            `json:"total_bookings"`
	ByStatus         map[string]int64 `json:"by_status"`
	CompletedRevenue int64            `json:"completed_revenue"`
	CommissionTotal  int64            `json:"commission_total"`
	NetEarnings      int64            `json:"net_earnings"`
}

// BookingNotification is the payload sent for every booking lifecycle notification.
type BookingNotification struct {
	BookingID      uuid.UUID `json:"booking_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Status         string    `json:"status"`
	ActorID        uuid.UUID `json:"actor_id"`
	Reason         string    `json:"reason,omitempty"`
	FinalAmount    *int64    `json:"final_amount,omitempty"`
	ActualHours    *float64  `json:"actual_hours,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CommissionResolver returns the commission rate for a category.
type CommissionResolver interface {
	GetCommissionPercent(ctx context.Context, categoryID *uuid.UUID) (float64, error)
}

// BookingService is the application service orchestrating booking use cases.
// Every transition loads the event history, asks the state machine, and writes the new
// state together with the new events in one version-checked transaction.
type BookingService struct {
	repo        bookingDomain.BookingRepository
	commissions CommissionResolver
	directory   directory.Directory
	gateway     PaymentGateway
	notifier    Notifier
	metrics     *metrics.Metrics
	clock       clock.Clock
	logger      *zap.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	commissions CommissionResolver,
	dir directory.Directory,
	gateway PaymentGateway,
	notifier Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		repo:        repo,
		commissions: commissions,
		directory:   dir,
		gateway:     gateway,
		notifier:    notifier,
		metrics:     m,
		clock:       clk,
		logger:      logger.Named("booking"),
	}
}

// CreateBooking creates a PENDING booking for the customer with the commission rate frozen.
func (s *BookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req CreateBookingRequest) (*BookingDTO, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	pricing, err := bookingDomain.ParsePricingModel(req.PricingModel)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	professional, err := s.directory.FindUser(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if !professional.Active {
		return nil, domain.NewValidationError("professional is not active")
	}
	if !professional.HasRole(auth.RoleProfessional) {
		return nil, domain.NewValidationError("user is not a professional")
	}
	if _, err := s.directory.FindCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	categoryID := req.CategoryID
	percent, err := s.commissions.GetCommissionPercent(ctx, &categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commission: %w", err)
	}

	bk, created, err := bookingDomain.NewBooking(bookingDomain.NewBookingParams{
		CustomerID:        customerID,
		ProfessionalID:    req.ProfessionalID,
		CategoryID:        req.CategoryID,
		ScheduledAt:       req.ScheduledAt,
		Address:           bookingDomain.Address{Text: req.AddressText, Lat: req.Lat, Lng: req.Lng},
		Notes:             req.Notes,
		PricingModel:      pricing,
		QuotedPricePoisha: req.QuotedPrice,
		CommissionPercent: percent,
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, bk, []*bookingDomain.Event{created}); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	s.metrics.IncTransition(string(bk.Status()))
	s.notify(ctx, NotifyBookingCreated, bk, customerID, "")
	s.logger.Info("booking created",
		zap.String("booking_id", bk.ID().String()),
		zap.String("professional_id", bk.ProfessionalID().String()),
		zap.Float64("commission_percent", percent),
	)

	result := toBookingDTO(bk)
	return &result, nil
}

// AcceptBooking moves a PENDING booking to ACCEPTED. Only the assigned professional may accept.
func (s *BookingService) AcceptBooking(ctx context.Context, bookingID, professionalID uuid.UUID) (*BookingDTO, error) {
	bk, seen, err := s.loadForProfessional(ctx, bookingID, professionalID)
	if err != nil {
		return nil, err
	}

	events, err := bk.Accept(seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, bk, events, NotifyBookingAccepted, professionalID, "")
}

// RejectBooking declines a PENDING booking, ending it as CANCELLED with the reason.
func (s *BookingService) RejectBooking(ctx context.Context, bookingID, professionalID uuid.UUID, req ReasonRequest) (*BookingDTO, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	bk, seen, err := s.loadForProfessional(ctx, bookingID, professionalID)
	if err != nil {
		return nil, err
	}

	events, err := bk.Reject(req.Reason, seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, bk, events, NotifyBookingRejected, professionalID, req.Reason)
}

// CheckIn moves an ACCEPTED booking to IN_PROGRESS.
func (s *BookingService) CheckIn(ctx context.Context, bookingID, professionalID uuid.UUID) (*BookingDTO, error) {
	bk, seen, err := s.loadForProfessional(ctx, bookingID, professionalID)
	if err != nil {
		return nil, err
	}

	events, err := bk.CheckIn(seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, bk, events, NotifyBookingCheckedIn, professionalID, "")
}

// CheckOut records the hours worked on an IN_PROGRESS booking without changing its status.
func (s *BookingService) CheckOut(ctx context.Context, bookingID, professionalID uuid.UUID, req HoursRequest) (*BookingDTO, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	bk, seen, err := s.loadForProfessional(ctx, bookingID, professionalID)
	if err != nil {
		return nil, err
	}

	events, err := bk.CheckOut(req.ActualHours, seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, bk, events, NotifyBookingCheckOut, professionalID, "")
}

// CompleteBooking moves an IN_PROGRESS booking to COMPLETED and freezes its final amount.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, professionalID uuid.UUID, req HoursRequest) (*BookingDTO, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	bk, seen, err := s.loadForProfessional(ctx, bookingID, professionalID)
	if err != nil {
		return nil, err
	}

	events, err := bk.Complete(req.ActualHours, seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, bk, events, NotifyBookingCompleted, professionalID, "")
}

// CancelBooking cancels a booking on behalf of its customer, its professional or an admin.
// Cancelling an already cancelled booking succeeds without writing anything.
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, req ReasonRequest) (*BookingDTO, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	bk, seen, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !bk.IsParticipant(actor.ID) {
		return nil, domain.NewForbiddenError("only the customer, the assigned professional or an admin can cancel this booking")
	}

	events, err := bk.Cancel(req.Reason, seen, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		result := toBookingDTO(bk)
		return &result, nil
	}
	return s.commit(ctx, bk, events, NotifyBookingCancelled, actor.ID, req.Reason)
}

// CreatePaymentIntent authorizes the booking's quote with the payment gateway. Only the
// booking's customer may pay, and only before the booking finishes.
func (s *BookingService) CreatePaymentIntent(ctx context.Context, actor Actor, bookingID uuid.UUID) (*PaymentIntent, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.CustomerID() != actor.ID {
		return nil, domain.NewForbiddenError("booking does not belong to this user")
	}
	if bk.Status().IsTerminal() {
		return nil, domain.NewBadRequestError(fmt.Sprintf("Cannot take payment for a booking in status %s", bk.Status()))
	}
	if bk.PaymentIntentID() != "" {
		return nil, domain.NewConflictError("booking already has a payment intent")
	}

	intent, err := s.gateway.CreateIntent(ctx, bk.ID(), bk.QuotedPricePoisha(), domain.CurrencyBDT)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if err := bk.AttachPaymentIntent(intent.ID, s.clock.Now()); err != nil {
		return nil, err
	}
	bk.IncrementVersion()
	if err := s.repo.Update(ctx, bk, nil); err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.String("booking_id", bk.ID().String()),
		zap.String("payment_intent_id", intent.ID),
	)
	return intent, nil
}

// GetBooking retrieves a single booking visible to the actor.
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !bk.IsParticipant(actor.ID) {
		return nil, domain.NewForbiddenError("booking does not belong to this user")
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// GetBookingEvents returns the booking's audit log, oldest first.
func (s *BookingService) GetBookingEvents(ctx context.Context, actor Actor, bookingID uuid.UUID) ([]BookingEventDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !bk.IsParticipant(actor.ID) {
		return nil, domain.NewForbiddenError("booking does not belong to this user")
	}

	events, err := s.repo.FindEvents(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	dtos := make([]BookingEventDTO, len(events))
	for i, e := range events {
		dtos[i] = BookingEventDTO{
			ID:         e.ID(),
			Type:       string(e.Type()),
			Metadata:   e.Metadata(),
			OccurredAt: e.OccurredAt(),
		}
	}
	return dtos, nil
}

// ListBookings returns the actor's bookings: all of them for admins, assigned ones for
// professionals, placed ones for customers.
func (s *BookingService) ListBookings(ctx context.Context, actor Actor, q ListBookingsQuery) (*domain.PaginatedResult[BookingDTO], error) {
	filter := scopeFor(actor)
	filter.Page, filter.Limit = normalizePage(q.Page, q.Limit)
	if q.Status != "" {
		status, err := bookingDomain.ParseBookingStatus(q.Status)
		if err != nil {
			return nil, domain.NewValidationError(err.Error())
		}
		filter.Status = &status
	}

	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	result := domain.NewPaginatedResult(dtos, total, filter.Page, filter.Limit)
	return &result, nil
}

// GetBookingStats counts the actor's bookings by status and sums settled revenue and
// commission over their completed ones, at each booking's frozen rate.
func (s *BookingService) GetBookingStats(ctx context.Context, actor Actor) (*BookingStatsDTO, error) {
	filter := scopeFor(actor)

	counts, err := s.repo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}
	completed, err := s.repo.FindCompleted(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	stats := &BookingStatsDTO{ByStatus: make(map[string]int64, len(bookingDomain.AllStatuses))}
	for _, st := range bookingDomain.AllStatuses {
		stats.ByStatus[string(st)] = counts[string(st)]
		stats.TotalBookings += counts[string(st)]
	}
	for _, bk := range completed {
		split := commission.Split(bk.SettlementAmountPoisha(), bk.CommissionPercent())
		stats.CompletedRevenue += split.Amount
		stats.CommissionTotal += split.CommissionAmount
		stats.NetEarnings += split.NetAmount
	}
	return stats, nil
}

// --- Helpers ---

func (s *BookingService) load(ctx context.Context, bookingID uuid.UUID) (*bookingDomain.Booking, []bookingDomain.EventType, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.repo.FindEvents(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return bk, bookingDomain.EventTypes(events), nil
}

func (s *BookingService) loadForProfessional(ctx context.Context, bookingID, professionalID uuid.UUID) (*bookingDomain.Booking, []bookingDomain.EventType, error) {
	bk, seen, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if bk.ProfessionalID() != professionalID {
		return nil, nil, domain.NewForbiddenError("only the assigned professional can perform this action")
	}
	return bk, seen, nil
}

// commit persists a transition. A concurrent writer that got there first makes the
// version check fail and this call returns Conflict.
func (s *BookingService) commit(
	ctx context.Context,
	bk *bookingDomain.Booking,
	events []*bookingDomain.Event,
	notification string,
	actorID uuid.UUID,
	reason string,
) (*BookingDTO, error) {
	bk.IncrementVersion()
	if err := s.repo.Update(ctx, bk, events); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(bk.Status()))
	s.notify(ctx, notification, bk, actorID, reason)
	s.logger.Info("booking updated",
		zap.String("booking_id", bk.ID().String()),
		zap.String("status", string(bk.Status())),
		zap.String("event", notification),
		zap.String("actor_id", actorID.String()),
	)

	result := toBookingDTO(bk)
	return &result, nil
}

func (s *BookingService) notify(ctx context.Context, event string, bk *bookingDomain.Booking, actorID uuid.UUID, reason string) {
	s.notifier.Notify(ctx, event, bk.ID().String(), BookingNotification{
		BookingID:      bk.ID(),
		CustomerID:     bk.CustomerID(),
		ProfessionalID: bk.ProfessionalID(),
		Status:         string(bk.Status()),
		ActorID:        actorID,
		Reason:         reason,
		FinalAmount:    bk.FinalAmountPoisha(),
		ActualHours:    bk.ActualHours(),
		OccurredAt:     bk.UpdatedAt(),
	})
}

func scopeFor(actor Actor) bookingDomain.ListFilter {
	id := actor.ID
	switch {
	case actor.IsAdmin():
		return bookingDomain.ListFilter{}
	case actor.HasRole(auth.RoleProfessional):
		return bookingDomain.ListFilter{ProfessionalID: &id}
	default:
		return bookingDomain.ListFilter{CustomerID: &id}
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	next := bookingDomain.GetNextPossibleStatuses(bk.Status())
	nextStatuses := make([]string, len(next))
	for i, n := range next {
		nextStatuses[i] = string(n)
	}
	return BookingDTO{
		ID:                bk.ID(),
		CustomerID:        bk.CustomerID(),
		ProfessionalID:    bk.ProfessionalID(),
		CategoryID:        bk.CategoryID(),
		Status:            string(bk.Status()),
		NextStatuses:      nextStatuses,
		ScheduledAt:       bk.ScheduledAt(),
		Address:           bk.Address(),
		Notes:             bk.Notes(),
		PricingModel:      string(bk.PricingModel()),
		QuotedPrice:       bk.QuotedPricePoisha(),
		CommissionPercent: bk.CommissionPercent(),
		FinalAmount:       bk.FinalAmountPoisha(),
		Currency:          domain.CurrencyBDT,
		CheckInAt:         bk.CheckInAt(),
		CheckOutAt:        bk.CheckOutAt(),
		ActualHours:       bk.ActualHours(),
		CancelReason:      bk.CancelReason(),
		PaymentIntentID:   bk.PaymentIntentID(),
		CapturedAmount:    bk.CapturedPoisha(),
		RefundedAmount:    bk.RefundedPoisha(),
		SettledByPayoutID: bk.SettledByPayoutID(),
		Version:           bk.Version(),
		CreatedAt:         bk.CreatedAt(),
		UpdatedAt:         bk.UpdatedAt(),
	}
}
