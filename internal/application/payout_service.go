package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/domain/payout"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
	"github.com/kaajbazar/service-booking/internal/platform/metrics"
)

const payoutRunLockKey = "settlement:payout-run"

// GeneratePayoutsResult summarizes a payout run.
type GeneratePayoutsResult struct {
	Generated   int         `json:"generated"`
	TotalAmount int64       `json:"totalAmount"`
	Failed      int         `json:"failed"`
	PayoutIDs   []uuid.UUID `json:"payoutIds"`
}

// PayoutQuery filters a payout listing. ProfessionalID is ignored for non-admins.
type PayoutQuery struct {
	ProfessionalID *uuid.UUID
	Status         string
	Page           int
	Limit          int
}

// PayoutDTO is the response representation of a payout.
type PayoutDTO struct {
	ID             uuid.UUID   `json:"id"`
	ProfessionalID uuid.UUID   `json:"professional_id"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Status         string      `json:"status"`
	Meta           payout.Meta `json:"meta"`
	PaidAt         *time.Time  `json:"paid_at,omitempty"`
	PaymentMethod  string      `json:"payment_method,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// PayoutNotification is the payload sent when a payout is created or paid.
type PayoutNotification struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	BookingsCount  int       `json:"bookings_count"`
}

// PayoutService batches completed bookings into per-professional payouts.
type PayoutService struct {
	payouts  payout.Repository
	bookings bookingDomain.BookingRepository
	locker   Locker
	lockTTL  time.Duration
	notifier Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *zap.Logger
}

// NewPayoutService creates a new PayoutService. locker may be nil, in which case runs
// rely on the booking claim alone to avoid double settlement.
func NewPayoutService(
	payouts payout.Repository,
	bookings bookingDomain.BookingRepository,
	locker Locker,
	lockTTL time.Duration,
	notifier Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *zap.Logger,
) *PayoutService {
	return &PayoutService{
		payouts:  payouts,
		bookings: bookings,
		locker:   locker,
		lockTTL:  lockTTL,
		notifier: notifier,
		metrics:  m,
		clock:    clk,
		logger:   logger.Named("payout"),
	}
}

// GeneratePayoutsForPeriod creates one PENDING payout per professional for the COMPLETED,
// not yet settled bookings checked out in [start, end). Each booking is claimed by its payout
// in the same transaction, so repeated or overlapping runs never settle a booking twice.
//
// A failure for one professional is logged and counted and the run moves on. A failure to
// read the bookings aborts the run.
func (s *PayoutService) GeneratePayoutsForPeriod(ctx context.Context, actor Actor, start, end time.Time) (*GeneratePayoutsResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return nil, domain.NewValidationError("period end must be after period start")
	}

	release, err := s.acquireRunLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.clock.Now()
	log := s.logger.With(zap.Time("period_start", start), zap.Time("period_end", end))

	bookings, err := s.bookings.FindUnsettledCompletedInPeriod(ctx, start, end)
	if err != nil {
		s.metrics.ObservePayoutRun("error", 0, 0, 0, s.clock.Now().Sub(started))
		return nil, fmt.Errorf("failed to load completed bookings: %w", err)
	}

	result := &GeneratePayoutsResult{PayoutIDs: []uuid.UUID{}}
	if len(bookings) == 0 {
		s.metrics.ObservePayoutRun("empty", 0, 0, 0, s.clock.Now().Sub(started))
		log.Info("no completed bookings to settle")
		return result, nil
	}

	order, groups := groupByProfessional(bookings)
	for _, professionalID := range order {
		p, err := s.createPayout(ctx, professionalID, start, end, groups[professionalID], false, "")
		if err != nil {
			result.Failed++
			log.Error("failed to create payout for professional",
				zap.String("professional_id", professionalID.String()),
				zap.Int("bookings", len(groups[professionalID])),
				zap.Error(err),
			)
			continue
		}
		result.Generated++
		result.TotalAmount += p.AmountPoisha()
		result.PayoutIDs = append(result.PayoutIDs, p.ID())
	}

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	s.metrics.ObservePayoutRun(outcome, result.Generated, result.Failed, result.TotalAmount, s.clock.Now().Sub(started))
	log.Info("payout run finished",
		zap.Int("generated", result.Generated),
		zap.Int("failed", result.Failed),
		zap.Int64("total_amount", result.TotalAmount),
		zap.String("actor_id", actor.ID.String()),
	)
	return result, nil
}

// GetPayouts lists payouts. Admins see everything; professionals only ever see their own.
func (s *PayoutService) GetPayouts(ctx context.Context, actor Actor, q PayoutQuery) (*domain.PaginatedResult[PayoutDTO], error) {
	filter := payout.Filter{}
	switch {
	case actor.IsAdmin():
		filter.ProfessionalID = q.ProfessionalID
	case actor.HasRole(auth.RoleProfessional):
		id := actor.ID
		filter.ProfessionalID = &id
	default:
		return nil, domain.NewForbiddenError("only professionals and admins can view payouts")
	}

	if q.Status != "" {
		status, err := payout.ParseStatus(q.Status)
		if err != nil {
			return nil, domain.NewValidationError(err.Error())
		}
		filter.Status = &status
	}
	filter.Page, filter.Limit = normalizePage(q.Page, q.Limit)

	payouts, total, err := s.payouts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toPayoutDTOs(payouts), total, filter.Page, filter.Limit)
	return &result, nil
}

// GetPayoutByID returns one payout. Non-admins may only read their own.
func (s *PayoutService) GetPayoutByID(ctx context.Context, actor Actor, id uuid.UUID) (*PayoutDTO, error) {
	p, err := s.payouts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && p.ProfessionalID() != actor.ID {
		return nil, domain.NewForbiddenError("payout does not belong to this user")
	}
	result := toPayoutDTO(p)
	return &result, nil
}

// createPayout builds and stores a payout for bookings that all belong to professionalID.
func (s *PayoutService) createPayout(
	ctx context.Context,
	professionalID uuid.UUID,
	start, end time.Time,
	bookings []*bookingDomain.Booking,
	manual bool,
	notes string,
) (*payout.Payout, error) {
	lines := make([]payout.Line, len(bookings))
	for i, bk := range bookings {
		lines[i] = payout.Line{
			BookingID:         bk.ID(),
			AmountPoisha:      bk.SettlementAmountPoisha(),
			CommissionPercent: bk.CommissionPercent(),
			RefundedPoisha:    bk.RefundedPoisha(),
		}
	}

	now := s.clock.Now()
	p, err := payout.NewPayout(professionalID, start, end, lines, manual, now)
	if err != nil {
		return nil, err
	}
	if notes != "" {
		p.Annotate(notes, now)
	}
	if err := s.payouts.CreateWithClaims(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, NotifyPayoutCreated, p.ID().String(), PayoutNotification{
		PayoutID:       p.ID(),
		ProfessionalID: p.ProfessionalID(),
		Amount:         p.AmountPoisha(),
		Status:         string(p.Status()),
		BookingsCount:  p.Meta().BookingsCount,
	})
	return p, nil
}

// acquireRunLock serializes payout runs across replicas when a locker is configured.
func (s *PayoutService) acquireRunLock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	token, ok, err := s.locker.TryLock(ctx, payoutRunLockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire payout run lock: %w", err)
	}
	if !ok {
		return nil, domain.NewConflictError("a payout run is already in progress")
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), payoutRunLockKey, token); err != nil {
			s.logger.Warn("failed to release payout run lock", zap.Error(err))
		}
	}, nil
}

// groupByProfessional keeps the first-seen order of professionals so runs are deterministic.
func groupByProfessional(bookings []*bookingDomain.Booking) ([]uuid.UUID, map[uuid.UUID][]*bookingDomain.Booking) {
	var order []uuid.UUID
	groups := make(map[uuid.UUID][]*bookingDomain.Booking)
	for _, bk := range bookings {
		id := bk.ProfessionalID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], bk)
	}
	return order, groups
}

func toPayoutDTO(p *payout.Payout) PayoutDTO {
	return PayoutDTO{
		ID:             p.ID(),
		ProfessionalID: p.ProfessionalID(),
		PeriodStart:    p.PeriodStart(),
		PeriodEnd:      p.PeriodEnd(),
		Amount:         p.AmountPoisha(),
		Currency:       domain.CurrencyBDT,
		Status:         string(p.Status()),
		Meta:           p.Meta(),
		PaidAt:         p.PaidAt(),
		PaymentMethod:  p.PaymentMethod(),
		Notes:          p.Notes(),
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

func toPayoutDTOs(payouts []*payout.Payout) []PayoutDTO {
	dtos := make([]PayoutDTO, len(payouts))
	for i, p := range payouts {
		dtos[i] = toPayoutDTO(p)
	}
	return dtos
}
