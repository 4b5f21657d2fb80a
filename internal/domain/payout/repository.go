package payout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/domain/booking"
)

// Filter scopes payout queries. Nil fields are not filtered on; Limit <= 0 returns every row.
type Filter struct {
	ProfessionalID *uuid.UUID
	Status         *Status
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Page           int
	Limit          int
}

// Repository defines the persistence contract for payouts.
type Repository interface {
	// CreateWithClaims inserts the payout and marks each of its bookings as settled by it,
	// in one transaction. If any booking is already claimed the whole write is rolled back
	// with a Conflict.
	CreateWithClaims(ctx context.Context, p *Payout) error

	// FindByID returns NotFound when the payout does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*Payout, error)

	// List retrieves payouts matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Payout, int64, error)

	// FindDue returns PENDING payouts created at or before cutoff, oldest first.
	FindDue(ctx context.Context, cutoff time.Time) ([]*Payout, error)

	// Update persists status changes with optimistic locking.
	Update(ctx context.Context, p *Payout) error

	// SaveRefund persists a refunded booking and, when p is non-nil, its adjusted payout,
	// atomically and with optimistic locking on both.
	SaveRefund(ctx context.Context, bk *booking.Booking, p *Payout) error
}
