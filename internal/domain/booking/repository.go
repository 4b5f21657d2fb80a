package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter scopes booking queries. Nil fields are not filtered on.
type ListFilter struct {
	CustomerID     *uuid.UUID
	ProfessionalID *uuid.UUID
	Status         *BookingStatus
	Page           int
	Limit          int
}

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindEvents returns the booking's event log, oldest first.
	FindEvents(ctx context.Context, bookingID uuid.UUID) ([]*Event, error)

	// FindByPaymentIntent retrieves the booking linked to a gateway payment intent.
	FindByPaymentIntent(ctx context.Context, intentID string) (*Booking, error)

	// List retrieves bookings matching the filter with pagination.
	List(ctx context.Context, filter ListFilter) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status.
	CountByStatus(ctx context.Context, filter ListFilter) (map[string]int64, error)

	// FindCompleted returns every COMPLETED booking matching the filter, ignoring paging.
	FindCompleted(ctx context.Context, filter ListFilter) ([]*Booking, error)

	// FindCompletedInPeriod returns COMPLETED bookings checked out in [start, end).
	FindCompletedInPeriod(ctx context.Context, start, end time.Time) ([]*Booking, error)

	// FindUnsettledCompletedInPeriod is FindCompletedInPeriod restricted to bookings
	// that no payout has claimed yet.
	FindUnsettledCompletedInPeriod(ctx context.Context, start, end time.Time) ([]*Booking, error)

	// Save persists a new booking and its initial events atomically.
	Save(ctx context.Context, booking *Booking, events []*Event) error

	// Update persists changes with optimistic locking and appends events in the same transaction.
	// It never touches the payout claim.
	Update(ctx context.Context, booking *Booking, events []*Event) error
}
