package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// Address is where the professional performs the service.
type Address struct {
	Text string  `json:"text"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Booking is the aggregate root for the booking domain.
type Booking struct {
	id             uuid.UUID
	customerID     uuid.UUID
	professionalID uuid.UUID
	categoryID     uuid.UUID
	status         BookingStatus
	scheduledAt    time.Time
	address        Address
	notes          string

	pricingModel      PricingModel
	quotedPricePoisha int64
	commissionPercent float64
	finalAmountPoisha *int64

	checkInAt    *time.Time
	checkOutAt   *time.Time
	actualHours  *float64
	cancelReason string

	paymentIntentID   string
	capturedPoisha    int64
	refundedPoisha    int64
	settledByPayoutID *uuid.UUID

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewBookingParams holds the inputs for NewBooking.
type NewBookingParams struct {
	CustomerID        uuid.UUID
	ProfessionalID    uuid.UUID
	CategoryID        uuid.UUID
	ScheduledAt       time.Time
	Address           Address
	Notes             string
	PricingModel      PricingModel
	QuotedPricePoisha int64
	CommissionPercent float64
}

// NewBooking creates a PENDING booking together with its CREATED event.
// The commission percent is frozen on the booking from this point on.
func NewBooking(p NewBookingParams, now time.Time) (*Booking, *Event, error) {
	if p.CustomerID == uuid.Nil {
		return nil, nil, domain.NewValidationError("customer ID is required")
	}
	if p.ProfessionalID == uuid.Nil {
		return nil, nil, domain.NewValidationError("professional ID is required")
	}
	if p.CustomerID == p.ProfessionalID {
		return nil, nil, domain.NewValidationError("customer cannot book themselves")
	}
	if p.CategoryID == uuid.Nil {
		return nil, nil, domain.NewValidationError("category ID is required")
	}
	if p.ScheduledAt.IsZero() || p.ScheduledAt.Before(now) {
		return nil, nil, domain.NewValidationError("scheduled time must not be in the past")
	}
	if strings.TrimSpace(p.Address.Text) == "" {
		return nil, nil, domain.NewValidationError("address is required")
	}
	if !p.PricingModel.IsValid() {
		return nil, nil, domain.NewValidationError(fmt.Sprintf("invalid pricing model: %s", p.PricingModel))
	}
	if p.QuotedPricePoisha <= 0 {
		return nil, nil, domain.NewValidationError("quoted price must be positive")
	}
	if p.CommissionPercent < 0 || p.CommissionPercent > 100 {
		return nil, nil, domain.NewValidationError("commission percent must be between 0 and 100")
	}

	now = now.UTC()
	bk := &Booking{
		id:                uuid.New(),
		customerID:        p.CustomerID,
		professionalID:    p.ProfessionalID,
		categoryID:        p.CategoryID,
		status:            StatusPending,
		scheduledAt:       p.ScheduledAt.UTC(),
		address:           p.Address,
		notes:             p.Notes,
		pricingModel:      p.PricingModel,
		quotedPricePoisha: p.QuotedPricePoisha,
		commissionPercent: p.CommissionPercent,
		version:           1,
		createdAt:         now,
		updatedAt:         now,
	}
	evt := NewEvent(bk.id, EventCreated, map[string]any{
		"customer_id":        p.CustomerID.String(),
		"professional_id":    p.ProfessionalID.String(),
		"pricing_model":      string(p.PricingModel),
		"quoted_price":       p.QuotedPricePoisha,
		"commission_percent": p.CommissionPercent,
	}, now)
	return bk, evt, nil
}

// BookingSnapshot carries every persisted field of a booking.
type BookingSnapshot struct {
	ID                uuid.UUID
	CustomerID        uuid.UUID
	ProfessionalID    uuid.UUID
	CategoryID        uuid.UUID
	Status            BookingStatus
	ScheduledAt       time.Time
	Address           Address
	Notes             string
	PricingModel      PricingModel
	QuotedPricePoisha int64
	CommissionPercent float64
	FinalAmountPoisha *int64
	CheckInAt         *time.Time
	CheckOutAt        *time.Time
	ActualHours       *float64
	CancelReason      string
	PaymentIntentID   string
	CapturedPoisha    int64
	RefundedPoisha    int64
	SettledByPayoutID *uuid.UUID
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(s BookingSnapshot) *Booking {
	return &Booking{
		id:                s.ID,
		customerID:        s.CustomerID,
		professionalID:    s.ProfessionalID,
		categoryID:        s.CategoryID,
		status:            s.Status,
		scheduledAt:       s.ScheduledAt,
		address:           s.Address,
		notes:             s.Notes,
		pricingModel:      s.PricingModel,
		quotedPricePoisha: s.QuotedPricePoisha,
		commissionPercent: s.CommissionPercent,
		finalAmountPoisha: s.FinalAmountPoisha,
		checkInAt:         s.CheckInAt,
		checkOutAt:        s.CheckOutAt,
		actualHours:       s.ActualHours,
		cancelReason:      s.CancelReason,
		paymentIntentID:   s.PaymentIntentID,
		capturedPoisha:    s.CapturedPoisha,
		refundedPoisha:    s.RefundedPoisha,
		settledByPayoutID: s.SettledByPayoutID,
		version:           s.Version,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
}

// --- Getters ---

// ID returns the booking's unique identifier.
func (b *Booking) ID() uuid.UUID { return b.id }

// CustomerID returns the customer who placed the booking.
func (b *Booking) CustomerID() uuid.UUID { return b.customerID }

// ProfessionalID returns the assigned professional.
func (b *Booking) ProfessionalID() uuid.UUID { return b.professionalID }

// CategoryID returns the service category.
func (b *Booking) CategoryID() uuid.UUID { return b.categoryID }

// Status returns the current booking status.
func (b *Booking) Status() BookingStatus { return b.status }

// ScheduledAt returns when the service is due to start.
func (b *Booking) ScheduledAt() time.Time { return b.scheduledAt }

// Address returns the service address.
func (b *Booking) Address() Address { return b.address }

// Notes returns free-form notes from the customer.
func (b *Booking) Notes() string { return b.notes }

// PricingModel returns HOURLY or FIXED.
func (b *Booking) PricingModel() PricingModel { return b.pricingModel }

// QuotedPricePoisha returns the quoted price (hourly rate for HOURLY bookings).
func (b *Booking) QuotedPricePoisha() int64 { return b.quotedPricePoisha }

// CommissionPercent returns the commission rate frozen at creation.
func (b *Booking) CommissionPercent() float64 { return b.commissionPercent }

// FinalAmountPoisha returns the settled amount, or nil until the booking completes.
func (b *Booking) FinalAmountPoisha() *int64 { return b.finalAmountPoisha }

// CheckInAt returns when the professional checked in.
func (b *Booking) CheckInAt() *time.Time { return b.checkInAt }

// CheckOutAt returns when the professional checked out.
func (b *Booking) CheckOutAt() *time.Time { return b.checkOutAt }

// ActualHours returns the hours recorded at check-out.
func (b *Booking) ActualHours() *float64 { return b.actualHours }

// CancelReason returns the cancellation or rejection reason.
func (b *Booking) CancelReason() string { return b.cancelReason }

// PaymentIntentID returns the gateway payment intent, if any.
func (b *Booking) PaymentIntentID() string { return b.paymentIntentID }

// CapturedPoisha returns the amount captured by the gateway.
func (b *Booking) CapturedPoisha() int64 { return b.capturedPoisha }

// RefundedPoisha returns the amount refunded so far.
func (b *Booking) RefundedPoisha() int64 { return b.refundedPoisha }

// RefundablePoisha returns how much can still be refunded.
func (b *Booking) RefundablePoisha() int64 { return b.capturedPoisha - b.refundedPoisha }

// SettledByPayoutID returns the payout this booking was settled into, or nil.
func (b *Booking) SettledByPayoutID() *uuid.UUID { return b.settledByPayoutID }

// IsSettled reports whether the booking's earnings already belong to a payout.
func (b *Booking) IsSettled() bool { return b.settledByPayoutID != nil }

// SettlementAmountPoisha is the final amount when set, otherwise the quote.
func (b *Booking) SettlementAmountPoisha() int64 {
	if b.finalAmountPoisha != nil {
		return *b.finalAmountPoisha
	}
	return b.quotedPricePoisha
}

// Version returns the entity version for optimistic locking.
func (b *Booking) Version() int64 { return b.version }

// CreatedAt returns the creation timestamp.
func (b *Booking) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (b *Booking) UpdatedAt() time.Time { return b.updatedAt }

// IsParticipant reports whether userID is the booking's customer or professional.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return userID == b.customerID || userID == b.professionalID
}

// --- Behavior ---
//
// Every lifecycle method takes the booking's event history, consults the state machine
// and returns the events the caller must append in the same write as the new state.

// guard runs the state machine for the next step and converts a refusal into a BadRequest
// carrying the reason verbatim.
func (b *Booking) guard(to BookingStatus, seen []EventType) error {
	check := CanTransitionTo(b.status, to, seen)
	if !check.CanTransition {
		return domain.NewBadRequestError(check.Reason)
	}
	return nil
}

// Accept transitions the booking from PENDING to ACCEPTED.
func (b *Booking) Accept(seen []EventType, now time.Time) ([]*Event, error) {
	if err := b.guard(StatusAccepted, seen); err != nil {
		return nil, err
	}
	now = now.UTC()
	b.status = StatusAccepted
	b.updatedAt = now
	return []*Event{NewEvent(b.id, EventAccepted, nil, now)}, nil
}

// Reject declines a PENDING booking. A rejection is terminal and lands in CANCELLED.
func (b *Booking) Reject(reason string, seen []EventType, now time.Time) ([]*Event, error) {
	if b.status != StatusPending {
		return nil, domain.NewBadRequestError(fmt.Sprintf("Only PENDING bookings can be rejected, current status is %s", b.status))
	}
	if err := b.guard(StatusCancelled, seen); err != nil {
		return nil, err
	}
	now = now.UTC()
	b.status = StatusCancelled
	b.cancelReason = reason
	b.updatedAt = now
	meta := map[string]any{"reason": reason}
	return []*Event{
		NewEvent(b.id, EventRejected, meta, now),
		NewEvent(b.id, EventCancelled, map[string]any{"reason": reason, "rejected": true}, now),
	}, nil
}

// CheckIn transitions the booking from ACCEPTED to IN_PROGRESS.
func (b *Booking) CheckIn(seen []EventType, now time.Time) ([]*Event, error) {
	if err := b.guard(StatusInProgress, seen); err != nil {
		return nil, err
	}
	now = now.UTC()
	b.status = StatusInProgress
	b.checkInAt = &now
	b.updatedAt = now
	return []*Event{NewEvent(b.id, EventCheckedIn, nil, now)}, nil
}

// CheckOut records the hours worked. It does not change the status; Complete does.
// When hours is nil they are derived from the check-in time.
func (b *Booking) CheckOut(hours *float64, seen []EventType, now time.Time) ([]*Event, error) {
	if !RequiresCheckInOut(b.status) {
		return nil, domain.NewBadRequestError(fmt.Sprintf("Cannot check out a booking in status %s", b.status))
	}
	if missing := missingEvents(b.status, seen); len(missing) > 0 {
		return nil, domain.NewBadRequestError(CanTransitionTo(b.status, StatusCompleted, seen).Reason)
	}
	if hasEvent(seen, EventCheckedOut) {
		return nil, domain.NewBadRequestError("Booking is already checked out")
	}
	return []*Event{b.checkOut(hours, now)}, nil
}

func (b *Booking) checkOut(hours *float64, now time.Time) *Event {
	now = now.UTC()
	var h float64
	switch {
	case hours != nil:
		h = roundHours(*hours)
	case b.checkInAt != nil:
		h = roundHours(now.Sub(*b.checkInAt).Hours())
	}
	b.actualHours = &h
	b.checkOutAt = &now
	b.updatedAt = now
	return NewEvent(b.id, EventCheckedOut, map[string]any{"actual_hours": h}, now)
}

// Complete transitions the booking from IN_PROGRESS to COMPLETED and freezes the final amount.
// A booking that was never checked out is checked out first with the given hours.
func (b *Booking) Complete(hours *float64, seen []EventType, now time.Time) ([]*Event, error) {
	if err := b.guard(StatusCompleted, seen); err != nil {
		return nil, err
	}
	if b.finalAmountPoisha != nil {
		return nil, domain.NewBadRequestError("Final amount is already set")
	}
	if hours != nil && *hours < 0 {
		return nil, domain.NewValidationError("actual hours cannot be negative")
	}

	prev := b.snapshotTimes()
	var events []*Event
	if !hasEvent(seen, EventCheckedOut) {
		events = append(events, b.checkOut(hours, now))
	} else if hours != nil {
		h := roundHours(*hours)
		b.actualHours = &h
	}

	final, err := FinalAmount(b.pricingModel, b.quotedPricePoisha, b.actualHours)
	if err != nil {
		b.restoreTimes(prev)
		return nil, err
	}

	now = now.UTC()
	b.status = StatusCompleted
	b.finalAmountPoisha = &final
	b.updatedAt = now
	meta := map[string]any{"final_amount": final}
	if b.actualHours != nil {
		meta["actual_hours"] = *b.actualHours
	}
	events = append(events, NewEvent(b.id, EventCompleted, meta, now))
	return events, nil
}

// Cancel moves the booking to CANCELLED. Cancelling an already cancelled booking
// succeeds and returns no events.
func (b *Booking) Cancel(reason string, seen []EventType, now time.Time) ([]*Event, error) {
	if b.status == StatusCancelled {
		return nil, nil
	}
	if !b.status.CanBeCancelled() {
		return nil, domain.NewInvalidStateError(string(b.status), string(StatusCancelled))
	}
	if err := b.guard(StatusCancelled, seen); err != nil {
		return nil, err
	}
	now = now.UTC()
	b.status = StatusCancelled
	b.cancelReason = reason
	b.updatedAt = now
	return []*Event{NewEvent(b.id, EventCancelled, map[string]any{"reason": reason}, now)}, nil
}

// AttachPaymentIntent links a gateway payment intent to the booking.
func (b *Booking) AttachPaymentIntent(intentID string, now time.Time) error {
	if intentID == "" {
		return domain.NewValidationError("payment intent ID is required")
	}
	if b.paymentIntentID != "" && b.paymentIntentID != intentID {
		return domain.NewConflictError("booking already has a payment intent")
	}
	if b.status.IsTerminal() {
		return domain.NewBadRequestError(fmt.Sprintf("Cannot take payment for a booking in status %s", b.status))
	}
	b.paymentIntentID = intentID
	b.updatedAt = now.UTC()
	return nil
}

// RecordCapture sets the captured amount. Gateways report the captured total,
// so repeated notifications are harmless.
func (b *Booking) RecordCapture(intentID string, amountPoisha int64, now time.Time) error {
	if amountPoisha <= 0 {
		return domain.NewValidationError("captured amount must be positive")
	}
	if b.paymentIntentID != "" && intentID != "" && b.paymentIntentID != intentID {
		return domain.NewConflictError("payment intent does not match booking")
	}
	if amountPoisha < b.refundedPoisha {
		return domain.NewBadRequestError("captured amount is below the refunded amount")
	}
	if intentID != "" {
		b.paymentIntentID = intentID
	}
	b.capturedPoisha = amountPoisha
	b.updatedAt = now.UTC()
	return nil
}

// RecordRefund adds a refund. It fails when the refund exceeds what is still refundable.
func (b *Booking) RecordRefund(amountPoisha int64, now time.Time) error {
	if amountPoisha <= 0 {
		return domain.NewValidationError("refund amount must be positive")
	}
	if amountPoisha > b.RefundablePoisha() {
		return domain.NewBadRequestError(fmt.Sprintf(
			"refund amount %d exceeds refundable amount %d", amountPoisha, b.RefundablePoisha()))
	}
	b.refundedPoisha += amountPoisha
	b.updatedAt = now.UTC()
	return nil
}

// SyncRefundedTotal applies a gateway-reported cumulative refund total and returns the
// newly refunded delta, which is zero when the total was already recorded.
func (b *Booking) SyncRefundedTotal(totalPoisha int64, now time.Time) (int64, error) {
	delta := totalPoisha - b.refundedPoisha
	if delta <= 0 {
		return 0, nil
	}
	if err := b.RecordRefund(delta, now); err != nil {
		return 0, err
	}
	return delta, nil
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.version++
}

type timesSnapshot struct {
	checkOutAt  *time.Time
	actualHours *float64
	updatedAt   time.Time
}

func (b *Booking) snapshotTimes() timesSnapshot {
	return timesSnapshot{checkOutAt: b.checkOutAt, actualHours: b.actualHours, updatedAt: b.updatedAt}
}

func (b *Booking) restoreTimes(s timesSnapshot) {
	b.checkOutAt = s.checkOutAt
	b.actualHours = s.actualHours
	b.updatedAt = s.updatedAt
}
