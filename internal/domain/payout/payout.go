package payout

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/domain/commission"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// Status is the lifecycle state of a payout.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusFailed
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("invalid payout status: %s", s)
	}
	return st, nil
}

// Line is one booking's contribution to a payout.
type Line struct {
	BookingID         uuid.UUID
	AmountPoisha      int64
	CommissionPercent float64
	RefundedPoisha    int64 // gross amount already refunded on the booking
}

// Meta is the audit breakdown stored with every payout. RefundedAtCreation is the gross
// refund total of the bookings when the payout was built.
type Meta struct {
	BookingsCount      int         `json:"bookingsCount"`
	TotalEarnings      int64       `json:"totalEarnings"`
	CommissionAmount   int64       `json:"commissionAmount"`
	RefundAdjustment   int64       `json:"refundAdjustment,omitempty"`
	RefundedAtCreation int64       `json:"refundedAtCreation,omitempty"`
	BookingIDs         []uuid.UUID `json:"bookingIds"`
	Manual             bool        `json:"manual,omitempty"`
}

// Payout is the net amount owed to one professional for a batch of completed bookings.
type Payout struct {
	id             uuid.UUID
	professionalID uuid.UUID
	periodStart    time.Time
	periodEnd      time.Time
	amountPoisha   int64
	status         Status
	meta           Meta
	paidAt         *time.Time
	paymentMethod  string
	notes          string
	version        int64
	createdAt      time.Time
	updatedAt      time.Time
}

// NewPayout builds a PENDING payout from its lines. Commission is summed per line at each
// booking's own frozen rate, and the net amount is total earnings minus that commission.
// Refunds already recorded on a booking reduce its line by the professional's share,
// the same deduction ApplyRefund makes once the payout exists.
func NewPayout(professionalID uuid.UUID, periodStart, periodEnd time.Time, lines []Line, manual bool, now time.Time) (*Payout, error) {
	if professionalID == uuid.Nil {
		return nil, domain.NewValidationError("professional ID is required")
	}
	if !periodEnd.After(periodStart) {
		return nil, domain.NewValidationError("period end must be after period start")
	}
	if len(lines) == 0 {
		return nil, domain.NewValidationError("a payout needs at least one booking")
	}

	meta := Meta{BookingIDs: make([]uuid.UUID, 0, len(lines)), Manual: manual}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, l := range lines {
		if _, dup := seen[l.BookingID]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("booking %s appears twice in payout", l.BookingID))
		}
		seen[l.BookingID] = struct{}{}

		split := commission.Split(l.AmountPoisha, l.CommissionPercent)
		meta.BookingsCount++
		meta.TotalEarnings += split.Amount
		meta.CommissionAmount += split.CommissionAmount
		meta.BookingIDs = append(meta.BookingIDs, l.BookingID)

		if l.RefundedPoisha > 0 {
			share := commission.Split(l.RefundedPoisha, l.CommissionPercent).NetAmount
			if share > split.NetAmount {
				share = split.NetAmount
			}
			meta.RefundAdjustment += share
			meta.RefundedAtCreation += l.RefundedPoisha
		}
	}

	now = now.UTC()
	return &Payout{
		id:             uuid.New(),
		professionalID: professionalID,
		periodStart:    periodStart.UTC(),
		periodEnd:      periodEnd.UTC(),
		amountPoisha:   meta.TotalEarnings - meta.CommissionAmount - meta.RefundAdjustment,
		status:         StatusPending,
		meta:           meta,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Snapshot carries every persisted field of a payout.
type Snapshot struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	AmountPoisha   int64
	Status         Status
	Meta           Meta
	PaidAt         *time.Time
	PaymentMethod  string
	Notes          string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Reconstruct rebuilds a Payout from persistence data.
func Reconstruct(s Snapshot) *Payout {
	return &Payout{
		id:             s.ID,
		professionalID: s.ProfessionalID,
		periodStart:    s.PeriodStart,
		periodEnd:      s.PeriodEnd,
		amountPoisha:   s.AmountPoisha,
		status:         s.Status,
		meta:           s.Meta,
		paidAt:         s.PaidAt,
		paymentMethod:  s.PaymentMethod,
		notes:          s.Notes,
		version:        s.Version,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
	}
}

func (p *Payout) ID() uuid.UUID             { return p.id }
func (p *Payout) ProfessionalID() uuid.UUID { return p.professionalID }
func (p *Payout) PeriodStart() time.Time    { return p.periodStart }
func (p *Payout) PeriodEnd() time.Time      { return p.periodEnd }

// AmountPoisha is the net amount owed, after commission and refund adjustments.
func (p *Payout) AmountPoisha() int64 { return p.amountPoisha }

func (p *Payout) Status() Status          { return p.status }
func (p *Payout) Meta() Meta              { return p.meta }
func (p *Payout) PaidAt() *time.Time      { return p.paidAt }
func (p *Payout) PaymentMethod() string   { return p.paymentMethod }
func (p *Payout) Notes() string           { return p.notes }
func (p *Payout) Version() int64          { return p.version }
func (p *Payout) CreatedAt() time.Time    { return p.createdAt }
func (p *Payout) UpdatedAt() time.Time    { return p.updatedAt }
func (p *Payout) BookingIDs() []uuid.UUID { return p.meta.BookingIDs }

// MarkPaid records that the professional has been paid. FAILED payouts may be retried.
func (p *Payout) MarkPaid(method, notes string, now time.Time) error {
	if p.status == StatusPaid {
		return domain.NewBadRequestError("payout is already paid")
	}
	now = now.UTC()
	p.status = StatusPaid
	p.paidAt = &now
	p.paymentMethod = method
	if notes != "" {
		p.notes = notes
	}
	p.updatedAt = now
	return nil
}

// MarkFailed records a failed disbursement of a PENDING payout.
func (p *Payout) MarkFailed(notes string, now time.Time) error {
	if p.status != StatusPending {
		return domain.NewInvalidStateError(string(p.status), string(StatusFailed))
	}
	p.status = StatusFailed
	if notes != "" {
		p.notes = notes
	}
	p.updatedAt = now.UTC()
	return nil
}

// ApplyRefund deducts the professional's share of a refund from an unpaid payout.
func (p *Payout) ApplyRefund(netPoisha int64, now time.Time) error {
	if p.status != StatusPending {
		return domain.NewBadRequestError(fmt.Sprintf("cannot adjust a %s payout", p.status))
	}
	if netPoisha <= 0 {
		return nil
	}
	if netPoisha > p.amountPoisha {
		netPoisha = p.amountPoisha
	}
	p.amountPoisha -= netPoisha
	p.meta.RefundAdjustment += netPoisha
	p.updatedAt = now.UTC()
	return nil
}

// Annotate replaces the payout's notes.
func (p *Payout) Annotate(notes string, now time.Time) {
	p.notes = notes
	p.updatedAt = now.UTC()
}

// IncrementVersion bumps the version for optimistic locking.
func (p *Payout) IncrementVersion() {
	p.version++
}
