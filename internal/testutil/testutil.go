// Package testutil holds fixtures shared by the repository and application tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/repository"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with the service schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the shared-cache database alive and avoids table locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

// BookingOption customizes a seeded booking.
type BookingOption func(s *bookingDomain.BookingSnapshot)

// WithStatus overrides the COMPLETED default.
func WithStatus(status bookingDomain.BookingStatus) BookingOption {
	return func(s *bookingDomain.BookingSnapshot) { s.Status = status }
}

// WithCustomer sets the customer.
func WithCustomer(id uuid.UUID) BookingOption {
	return func(s *bookingDomain.BookingSnapshot) { s.CustomerID = id }
}

// WithCategory sets the category.
func WithCategory(id uuid.UUID) BookingOption {
	return func(s *bookingDomain.BookingSnapshot) { s.CategoryID = id }
}

// WithCapture links a payment intent and marks amount as captured.
func WithCapture(intentID string, amount int64) BookingOption {
	return func(s *bookingDomain.BookingSnapshot) {
		s.PaymentIntentID = intentID
		s.CapturedPoisha = amount
	}
}

// WithIntent links a payment intent without a capture.
func WithIntent(intentID string) BookingOption {
	return func(s *bookingDomain.BookingSnapshot) { s.PaymentIntentID = intentID }
}

// CompletedBooking builds a COMPLETED fixed-price booking checked out at checkOut.
func CompletedBooking(professionalID uuid.UUID, amount int64, percent float64, checkOut time.Time, opts ...BookingOption) *bookingDomain.Booking {
	checkOut = checkOut.UTC()
	checkIn := checkOut.Add(-2 * time.Hour)
	hours := 2.0
	final := amount
	s := bookingDomain.BookingSnapshot{
		ID:                uuid.New(),
		CustomerID:        uuid.New(),
		ProfessionalID:    professionalID,
		CategoryID:        uuid.New(),
		Status:            bookingDomain.StatusCompleted,
		ScheduledAt:       checkIn,
		Address:           bookingDomain.Address{Text: "Road 11, Banani"},
		PricingModel:      bookingDomain.PricingFixed,
		QuotedPricePoisha: amount,
		CommissionPercent: percent,
		FinalAmountPoisha: &final,
		CheckInAt:         &checkIn,
		CheckOutAt:        &checkOut,
		ActualHours:       &hours,
		Version:           5,
		CreatedAt:         checkIn.Add(-24 * time.Hour),
		UpdatedAt:         checkOut,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.Status != bookingDomain.StatusCompleted {
		s.FinalAmountPoisha = nil
		s.CheckOutAt = nil
		s.ActualHours = nil
	}
	return bookingDomain.ReconstructBooking(s)
}

// SeedCompletedBooking stores a CompletedBooking together with the event log its status needs.
func SeedCompletedBooking(
	t *testing.T,
	repo bookingDomain.BookingRepository,
	professionalID uuid.UUID,
	amount int64,
	percent float64,
	checkOut time.Time,
	opts ...BookingOption,
) *bookingDomain.Booking {
	t.Helper()
	bk := CompletedBooking(professionalID, amount, percent, checkOut, opts...)
	require.NoError(t, repo.Save(context.Background(), bk, EventsFor(bk)))
	return bk
}

// EventsFor returns a plausible event log for bk's current status.
func EventsFor(bk *bookingDomain.Booking) []*bookingDomain.Event {
	at := bk.CreatedAt()
	types := []bookingDomain.EventType{bookingDomain.EventCreated}
	switch bk.Status() {
	case bookingDomain.StatusAccepted:
		types = append(types, bookingDomain.EventAccepted)
	case bookingDomain.StatusInProgress:
		types = append(types, bookingDomain.EventAccepted, bookingDomain.EventCheckedIn)
	case bookingDomain.StatusCompleted:
		types = append(types, bookingDomain.EventAccepted, bookingDomain.EventCheckedIn,
			bookingDomain.EventCheckedOut, bookingDomain.EventCompleted)
	case bookingDomain.StatusCancelled:
		types = append(types, bookingDomain.EventCancelled)
	}
	events := make([]*bookingDomain.Event, len(types))
	for i, typ := range types {
		events[i] = bookingDomain.NewEvent(bk.ID(), typ, nil, at)
	}
	return events
}
