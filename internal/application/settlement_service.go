package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/domain/commission"
	"github.com/kaajbazar/service-booking/internal/domain/payout"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
	"github.com/kaajbazar/service-booking/internal/platform/metrics"
)

const (
	maxSettlementRange = 366 * 24 * time.Hour
	conflictRetries    = 3
	day                = 24 * time.Hour
)

// ManualSettlementRequest settles a single completed booking outside the batch run.
type ManualSettlementRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// MarkPaidRequest records how a payout was disbursed.
type MarkPaidRequest struct {
	PaymentMethod string `json:"payment_method" validate:"max=50"`
	Notes         string `json:"notes" validate:"max=1000"`
}

// MarkFailedRequest records why a disbursement failed.
type MarkFailedRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// BackfillRequest re-runs payout generation day by day over [From, To).
type BackfillRequest struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

// RefundRequest issues a partial or full refund of a booking's captured payment.
type RefundRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"max=500"`
}

// DailySummaryDTO is the settlement picture for one UTC day.
type DailySummaryDTO struct {
	Date              string           `json:"date"`
	BookingsCompleted int              `json:"bookings_completed"`
	GrossAmount       int64            `json:"gross_amount"`
	CommissionAmount  int64            `json:"commission_amount"`
	NetAmount         int64            `json:"net_amount"`
	SettledBookings   int              `json:"settled_bookings"`
	UnsettledBookings int              `json:"unsettled_bookings"`
	PayoutsCreated    int              `json:"payouts_created"`
	PayoutAmount      int64            `json:"payout_amount"`
	PayoutsByStatus   map[string]int   `json:"payouts_by_status"`
	Currency          string           `json:"currency"`
	Professionals     map[string]int64 `json:"net_by_professional"`
}

// BackfillResult summarizes a backfill over several days.
type BackfillResult struct {
	Days        int   `json:"days"`
	Generated   int   `json:"generated"`
	TotalAmount int64 `json:"totalAmount"`
	Failed      int   `json:"failed"`
	FailedDays  int   `json:"failedDays"`
}

// RefundResultDTO reports a refund and its effect on settlement.
type RefundResultDTO struct {
	RefundID         string     `json:"refund_id"`
	BookingID        uuid.UUID  `json:"booking_id"`
	Amount           int64      `json:"amount"`
	RefundedTotal    int64      `json:"refunded_total"`
	PayoutID         *uuid.UUID `json:"payout_id,omitempty"`
	PayoutAdjustment int64      `json:"payout_adjustment"`
}

// RefundNotification is the payload sent when a refund is recorded.
type RefundNotification struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	Amount        int64      `json:"amount"`
	RefundedTotal int64      `json:"refunded_total"`
	PayoutID      *uuid.UUID `json:"payout_id,omitempty"`
	Source        string     `json:"source"`
}

// SettlementService is the administrative surface over commission and payouts, and the
// sink for payment gateway notifications.
type SettlementService struct {
	bookings bookingDomain.BookingRepository
	payouts  payout.Repository
	engine   *PayoutService
	gateway  PaymentGateway
	notifier Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	dueAfter time.Duration
	logger   *zap.Logger
}

// NewSettlementService creates a new SettlementService. Payouts still PENDING dueAfter
// after creation are reported as due.
func NewSettlementService(
	bookings bookingDomain.BookingRepository,
	payouts payout.Repository,
	engine *PayoutService,
	gateway PaymentGateway,
	notifier Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
	dueAfter time.Duration,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		bookings: bookings,
		payouts:  payouts,
		engine:   engine,
		gateway:  gateway,
		notifier: notifier,
		metrics:  m,
		clock:    clk,
		dueAfter: dueAfter,
		logger:   logger.Named("settlement"),
	}
}

// DailySummary reports the bookings completed on date's UTC day, at their frozen rates,
// and the payouts created that day.
func (s *SettlementService) DailySummary(ctx context.Context, actor Actor, date time.Time) (*DailySummaryDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := startOfDay(date)
	end := start.Add(day)

	completed, err := s.bookings.FindCompletedInPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed bookings: %w", err)
	}
	payouts, _, err := s.payouts.List(ctx, payout.Filter{CreatedFrom: &start, CreatedTo: &end})
	if err != nil {
		return nil, fmt.Errorf("failed to load payouts: %w", err)
	}

	summary := &DailySummaryDTO{
		Date:            start.Format(time.DateOnly),
		PayoutsByStatus: map[string]int{},
		Currency:        domain.CurrencyBDT,
		Professionals:   map[string]int64{},
	}
	for _, bk := range completed {
		split := commission.Split(bk.SettlementAmountPoisha(), bk.CommissionPercent())
		summary.BookingsCompleted++
		summary.GrossAmount += split.Amount
		summary.CommissionAmount += split.CommissionAmount
		summary.NetAmount += split.NetAmount
		summary.Professionals[bk.ProfessionalID().String()] += split.NetAmount
		if bk.IsSettled() {
			summary.SettledBookings++
		} else {
			summary.UnsettledBookings++
		}
	}
	for _, p := range payouts {
		summary.PayoutsCreated++
		summary.PayoutAmount += p.AmountPoisha()
		summary.PayoutsByStatus[string(p.Status())]++
	}
	return summary, nil
}

// History lists payouts created in [from, to), newest first.
func (s *SettlementService) History(ctx context.Context, actor Actor, from, to time.Time, page, limit int) (*domain.PaginatedResult[PayoutDTO], error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	from, to = from.UTC(), to.UTC()

	filter := payout.Filter{CreatedFrom: &from, CreatedTo: &to}
	filter.Page, filter.Limit = normalizePage(page, limit)
	payouts, total, err := s.payouts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toPayoutDTOs(payouts), total, filter.Page, filter.Limit)
	return &result, nil
}

// DueSettlements lists PENDING payouts older than the configured threshold.
func (s *SettlementService) DueSettlements(ctx context.Context, actor Actor) ([]PayoutDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	due, err := s.payouts.FindDue(ctx, s.clock.Now().Add(-s.dueAfter))
	if err != nil {
		return nil, err
	}
	return toPayoutDTOs(due), nil
}

// CreateManualSettlement settles one COMPLETED booking on its own. The payout covers the
// booking's check-out day. A booking already claimed by a payout yields Conflict.
func (s *SettlementService) CreateManualSettlement(ctx context.Context, actor Actor, bookingID uuid.UUID, req ManualSettlementRequest) (*PayoutDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	bk, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.Status() != bookingDomain.StatusCompleted {
		return nil, domain.NewBadRequestError(fmt.Sprintf("Cannot settle a booking in status %s", bk.Status()))
	}
	if bk.IsSettled() {
		return nil, domain.NewConflictError(fmt.Sprintf("booking is already settled by payout %s", bk.SettledByPayoutID()))
	}

	settledOn := bk.UpdatedAt()
	if bk.CheckOutAt() != nil {
		settledOn = *bk.CheckOutAt()
	}
	start := startOfDay(settledOn)

	p, err := s.engine.createPayout(ctx, bk.ProfessionalID(), start, start.Add(day), []*bookingDomain.Booking{bk}, true, req.Notes)
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual settlement created",
		zap.String("payout_id", p.ID().String()),
		zap.String("booking_id", bk.ID().String()),
		zap.Int64("amount", p.AmountPoisha()),
		zap.String("actor_id", actor.ID.String()),
	)
	result := toPayoutDTO(p)
	return &result, nil
}

// MarkSettlementPaid records a disbursement. FAILED payouts may be paid on retry; paying
// a PAID payout is a BadRequest.
func (s *SettlementService) MarkSettlementPaid(ctx context.Context, actor Actor, payoutID uuid.UUID, req MarkPaidRequest) (*PayoutDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	p, err := s.payouts.FindByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if err := p.MarkPaid(req.PaymentMethod, req.Notes, s.clock.Now()); err != nil {
		return nil, err
	}
	p.IncrementVersion()
	if err := s.payouts.Update(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, NotifyPayoutPaid, p.ID().String(), PayoutNotification{
		PayoutID:       p.ID(),
		ProfessionalID: p.ProfessionalID(),
		Amount:         p.AmountPoisha(),
		Status:         string(p.Status()),
		BookingsCount:  p.Meta().BookingsCount,
	})
	s.logger.Info("payout marked paid",
		zap.String("payout_id", p.ID().String()),
		zap.String("payment_method", req.PaymentMethod),
		zap.String("actor_id", actor.ID.String()),
	)
	result := toPayoutDTO(p)
	return &result, nil
}

// MarkSettlementFailed records a failed disbursement of a PENDING payout.
func (s *SettlementService) MarkSettlementFailed(ctx context.Context, actor Actor, payoutID uuid.UUID, req MarkFailedRequest) (*PayoutDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	p, err := s.payouts.FindByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if err := p.MarkFailed(req.Notes, s.clock.Now()); err != nil {
		return nil, err
	}
	p.IncrementVersion()
	if err := s.payouts.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Warn("payout marked failed",
		zap.String("payout_id", p.ID().String()),
		zap.String("actor_id", actor.ID.String()),
	)
	result := toPayoutDTO(p)
	return &result, nil
}

// Backfill runs payout generation for every UTC day in [From, To). Only bookings no payout
// has claimed are picked up, so backfilling a range that was already settled creates nothing.
func (s *SettlementService) Backfill(ctx context.Context, actor Actor, req BackfillRequest) (*BackfillResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	from, to := startOfDay(req.From), startOfDay(req.To)
	if req.To.UTC().After(to) {
		to = to.Add(day)
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	result := &BackfillResult{}
	for dayStart := from; dayStart.Before(to); dayStart = dayStart.Add(day) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Days++
		run, err := s.engine.GeneratePayoutsForPeriod(ctx, actor, dayStart, dayStart.Add(day))
		if err != nil {
			result.FailedDays++
			s.logger.Error("backfill day failed", zap.Time("day", dayStart), zap.Error(err))
			continue
		}
		result.Generated += run.Generated
		result.TotalAmount += run.TotalAmount
		result.Failed += run.Failed
	}

	s.logger.Info("backfill finished",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("days", result.Days),
		zap.Int("generated", result.Generated),
		zap.Int("failed_days", result.FailedDays),
	)
	return result, nil
}

// CaptureBookingPayment captures the authorized payment of a COMPLETED booking for its final amount.
func (s *SettlementService) CaptureBookingPayment(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	bk, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.Status() != bookingDomain.StatusCompleted {
		return nil, domain.NewBadRequestError(fmt.Sprintf("Cannot capture payment for a booking in status %s", bk.Status()))
	}
	if bk.PaymentIntentID() == "" {
		return nil, domain.NewBadRequestError("booking has no payment intent")
	}
	if bk.CapturedPoisha() > 0 {
		return nil, domain.NewConflictError("booking payment is already captured")
	}

	intent, err := s.gateway.CapturePayment(ctx, bk.PaymentIntentID(), bk.SettlementAmountPoisha())
	if err != nil {
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	updated, err := s.recordCapture(ctx, bk.ID(), intent.ID, intent.AmountPoisha)
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(updated)
	return &result, nil
}

// TriggerRefund refunds part or all of a booking's captured payment through the gateway,
// then records it. A refund on a booking whose payout is still PENDING reduces that payout
// by the professional's share of the refund. PAID payouts are left untouched.
func (s *SettlementService) TriggerRefund(ctx context.Context, actor Actor, bookingID uuid.UUID, req RefundRequest) (*RefundResultDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	bk, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.PaymentIntentID() == "" || bk.CapturedPoisha() == 0 {
		return nil, domain.NewBadRequestError("booking has no captured payment")
	}
	if req.Amount > bk.RefundablePoisha() {
		return nil, domain.NewBadRequestError(fmt.Sprintf(
			"refund amount %d exceeds refundable amount %d", req.Amount, bk.RefundablePoisha()))
	}

	refund, err := s.gateway.RefundPayment(ctx, bk.PaymentIntentID(), req.Amount, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	// The gateway may report this refund by webhook before we record it, so the
	// write targets the cumulative total rather than adding the amount again.
	target := bk.RefundedPoisha() + req.Amount
	result, err := s.applyRefund(ctx, bk.ID(), func(b *bookingDomain.Booking) (int64, error) {
		return b.SyncRefundedTotal(target, s.clock.Now())
	}, "admin")
	if err != nil {
		s.logger.Error("refund issued but not recorded",
			zap.String("booking_id", bk.ID().String()),
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
		return nil, err
	}
	result.RefundID = refund.ID
	return result, nil
}

// HandlePaymentWebhook verifies a gateway webhook and applies it.
func (s *SettlementService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return domain.NewBadRequestError("invalid webhook signature")
	}
	pe, err := s.gateway.ProcessWebhook(evt)
	if err != nil {
		return domain.NewBadRequestError(fmt.Sprintf("invalid webhook payload: %v", err))
	}
	if pe == nil {
		s.logger.Debug("ignoring webhook event", zap.String("type", evt.Type), zap.String("event_id", evt.ID))
		return nil
	}
	return s.HandlePaymentEvent(ctx, *pe)
}

// HandlePaymentEvent dispatches a normalized payment event to the bookkeeping for its type.
func (s *SettlementService) HandlePaymentEvent(ctx context.Context, evt PaymentEvent) error {
	switch evt.Type {
	case PaymentCaptured:
		return s.RecordPaymentCaptured(ctx, evt)
	case PaymentRefunded:
		return s.RecordPaymentRefunded(ctx, evt)
	default:
		s.logger.Debug("ignoring payment event", zap.String("type", string(evt.Type)))
		return nil
	}
}

// RecordPaymentCaptured sets the booking's captured total from a gateway notification.
func (s *SettlementService) RecordPaymentCaptured(ctx context.Context, evt PaymentEvent) error {
	bk, err := s.findPaymentBooking(ctx, evt)
	if err != nil {
		return err
	}
	_, err = s.recordCapture(ctx, bk.ID(), evt.IntentID, evt.AmountPoisha)
	return err
}

// RecordPaymentRefunded applies a gateway-reported cumulative refund total. Redelivered
// notifications find nothing new to record.
func (s *SettlementService) RecordPaymentRefunded(ctx context.Context, evt PaymentEvent) error {
	bk, err := s.findPaymentBooking(ctx, evt)
	if err != nil {
		return err
	}
	_, err = s.applyRefund(ctx, bk.ID(), func(b *bookingDomain.Booking) (int64, error) {
		return b.SyncRefundedTotal(evt.AmountPoisha, s.clock.Now())
	}, "gateway")
	return err
}

func (s *SettlementService) findPaymentBooking(ctx context.Context, evt PaymentEvent) (*bookingDomain.Booking, error) {
	if evt.IntentID != "" {
		bk, err := s.bookings.FindByPaymentIntent(ctx, evt.IntentID)
		if err == nil || !domain.IsNotFound(err) || evt.BookingID == uuid.Nil {
			return bk, err
		}
	}
	if evt.BookingID == uuid.Nil {
		return nil, domain.NewValidationError("payment event names neither a payment intent nor a booking")
	}
	return s.bookings.FindByID(ctx, evt.BookingID)
}

func (s *SettlementService) recordCapture(ctx context.Context, bookingID uuid.UUID, intentID string, amount int64) (*bookingDomain.Booking, error) {
	var bk *bookingDomain.Booking
	err := retryOnConflict(func() error {
		var err error
		bk, err = s.bookings.FindByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if bk.CapturedPoisha() == amount && (intentID == "" || bk.PaymentIntentID() == intentID) {
			return nil
		}
		if err := bk.RecordCapture(intentID, amount, s.clock.Now()); err != nil {
			return err
		}
		bk.IncrementVersion()
		return s.bookings.Update(ctx, bk, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment captured",
		zap.String("booking_id", bk.ID().String()),
		zap.String("payment_intent_id", bk.PaymentIntentID()),
		zap.Int64("amount", bk.CapturedPoisha()),
	)
	return bk, nil
}

// applyRefund reloads the booking, lets record mutate it, and persists the booking together
// with the adjusted payout. record returns the newly refunded amount; zero means nothing to do.
func (s *SettlementService) applyRefund(
	ctx context.Context,
	bookingID uuid.UUID,
	record func(*bookingDomain.Booking) (int64, error),
	source string,
) (*RefundResultDTO, error) {
	var (
		bk         *bookingDomain.Booking
		refunded   int64
		payoutID   *uuid.UUID
		adjustment int64
	)
	err := retryOnConflict(func() error {
		var err error
		payoutID, adjustment = nil, 0
		bk, err = s.bookings.FindByID(ctx, bookingID)
		if err != nil {
			return err
		}
		refunded, err = record(bk)
		if err != nil || refunded == 0 {
			return err
		}

		var p *payout.Payout
		if id := bk.SettledByPayoutID(); id != nil {
			p, err = s.payouts.FindByID(ctx, *id)
			if err != nil {
				return err
			}
			if p.Status() == payout.StatusPending {
				before := p.AmountPoisha()
				net := commission.Split(refunded, bk.CommissionPercent()).NetAmount
				if err := p.ApplyRefund(net, s.clock.Now()); err != nil {
					return err
				}
				p.IncrementVersion()
				payoutID, adjustment = id, before-p.AmountPoisha()
			} else {
				s.logger.Warn("refund on a booking whose payout is no longer pending",
					zap.String("booking_id", bk.ID().String()),
					zap.String("payout_id", id.String()),
					zap.String("payout_status", string(p.Status())),
				)
				p = nil
			}
		}

		bk.IncrementVersion()
		return s.payouts.SaveRefund(ctx, bk, p)
	})
	if err != nil {
		return nil, err
	}

	result := &RefundResultDTO{
		BookingID:        bk.ID(),
		Amount:           refunded,
		RefundedTotal:    bk.RefundedPoisha(),
		PayoutID:         payoutID,
		PayoutAdjustment: adjustment,
	}
	if refunded == 0 {
		return result, nil
	}

	s.metrics.IncRefund(source)
	s.notifier.Notify(ctx, NotifyRefundIssued, bk.ID().String(), RefundNotification{
		BookingID:     bk.ID(),
		CustomerID:    bk.CustomerID(),
		Amount:        refunded,
		RefundedTotal: bk.RefundedPoisha(),
		PayoutID:      payoutID,
		Source:        source,
	})
	s.logger.Info("refund recorded",
		zap.String("booking_id", bk.ID().String()),
		zap.Int64("amount", refunded),
		zap.Int64("refunded_total", bk.RefundedPoisha()),
		zap.Int64("payout_adjustment", adjustment),
		zap.String("source", source),
	)
	return result, nil
}

// retryOnConflict re-runs fn when a concurrent writer won the version check.
func retryOnConflict(fn func() error) error {
	var err error
	for range conflictRetries {
		if err = fn(); !domain.IsConflict(err) {
			return err
		}
	}
	return err
}

func validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return domain.NewValidationError("from and to are required")
	}
	if !to.After(from) {
		return domain.NewValidationError("to must be after from")
	}
	if to.Sub(from) > maxSettlementRange {
		return domain.NewValidationError("range cannot exceed 366 days")
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
