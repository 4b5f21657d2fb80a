package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CustomerID        uuid.UUID  `gorm:"type:uuid;index;not null"`
	ProfessionalID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	CategoryID        uuid.UUID  `gorm:"type:uuid;index;not null"`
	Status            string     `gorm:"not null;size:20;index"`
	ScheduledAt       time.Time  `gorm:"not null"`
	AddressText       string     `gorm:"not null;size:500"`
	AddressLat        float64    `gorm:"not null;default:0"`
	AddressLng        float64    `gorm:"not null;default:0"`
	Notes             string     `gorm:"size:1000"`
	PricingModel      string     `gorm:"not null;size:10"`
	QuotedPricePoisha int64      `gorm:"not null"`
	CommissionPercent float64    `gorm:"not null"`
	FinalAmountPoisha *int64     `gorm:""`
	CheckInAt         *time.Time `gorm:""`
	CheckOutAt        *time.Time `gorm:"index"`
	ActualHours       *float64   `gorm:""`
	CancelReason      string     `gorm:"size:500"`
	PaymentIntentID   *string    `gorm:"size:100;uniqueIndex"`
	CapturedPoisha    int64      `gorm:"not null;default:0"`
	RefundedPoisha    int64      `gorm:"not null;default:0"`
	SettledByPayoutID *uuid.UUID `gorm:"type:uuid;index"`
	Version           int64      `gorm:"not null;default:1"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// BookingEventModel is the GORM model for the append-only booking_events table.
type BookingEventModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	BookingID  uuid.UUID         `gorm:"type:uuid;index;not null"`
	Seq        int64             `gorm:"not null"`
	Type       string            `gorm:"not null;size:20"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	OccurredAt time.Time         `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingEventModel) TableName() string {
	return "booking_events"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindEvents returns the booking's event log, oldest first.
func (r *GormBookingRepository) FindEvents(ctx context.Context, bookingID uuid.UUID) ([]*bookingDomain.Event, error) {
	var models []BookingEventModel
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find booking events: %w", err)
	}

	events := make([]*bookingDomain.Event, len(models))
	for i, m := range models {
		events[i] = bookingDomain.ReconstructEvent(m.ID, m.BookingID, bookingDomain.EventType(m.Type), m.Metadata, m.OccurredAt)
	}
	return events, nil
}

// FindByPaymentIntent retrieves the booking linked to a gateway payment intent.
func (r *GormBookingRepository) FindByPaymentIntent(ctx context.Context, intentID string) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking for payment intent", intentID)
		}
		return nil, fmt.Errorf("failed to find booking by payment intent: %w", err)
	}
	return toDomainBooking(&model)
}

// List retrieves bookings matching the filter with pagination.
func (r *GormBookingRepository) List(ctx context.Context, filter bookingDomain.ListFilter) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := r.scoped(ctx, filter).Model(&BookingModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	var models []BookingModel
	q := r.scoped(ctx, filter).Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Offset((filter.Page - 1) * filter.Limit).Limit(filter.Limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// CountByStatus returns booking counts grouped by status.
func (r *GormBookingRepository) CountByStatus(ctx context.Context, filter bookingDomain.ListFilter) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.scoped(ctx, filter).Model(&BookingModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// FindCompleted returns every COMPLETED booking matching the filter, ignoring paging.
func (r *GormBookingRepository) FindCompleted(ctx context.Context, filter bookingDomain.ListFilter) ([]*bookingDomain.Booking, error) {
	completed := bookingDomain.StatusCompleted
	filter.Status = &completed

	var models []BookingModel
	if err := r.scoped(ctx, filter).Order("check_out_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find completed bookings: %w", err)
	}
	return toDomainBookings(models)
}

// FindCompletedInPeriod returns COMPLETED bookings checked out in [start, end).
func (r *GormBookingRepository) FindCompletedInPeriod(ctx context.Context, start, end time.Time) ([]*bookingDomain.Booking, error) {
	return r.findCompletedInPeriod(ctx, start, end, false)
}

// FindUnsettledCompletedInPeriod returns COMPLETED, unclaimed bookings checked out in [start, end).
func (r *GormBookingRepository) FindUnsettledCompletedInPeriod(ctx context.Context, start, end time.Time) ([]*bookingDomain.Booking, error) {
	return r.findCompletedInPeriod(ctx, start, end, true)
}

func (r *GormBookingRepository) findCompletedInPeriod(ctx context.Context, start, end time.Time, unsettledOnly bool) ([]*bookingDomain.Booking, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", string(bookingDomain.StatusCompleted)).
		Where("check_out_at >= ? AND check_out_at < ?", start.UTC(), end.UTC())
	if unsettledOnly {
		q = q.Where("settled_by_payout_id IS NULL")
	}

	var models []BookingModel
	if err := q.Order("professional_id ASC, check_out_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find completed bookings in period: %w", err)
	}
	return toDomainBookings(models)
}

// Save persists a new booking and its initial events atomically.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking, events []*bookingDomain.Event) error {
	model := toBookingModel(bk)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}
		return appendEvents(tx, bk.Version(), events)
	})
}

// Update persists changes to an existing booking with optimistic locking and appends
// the transition's events in the same transaction. settled_by_payout_id is owned by
// the payout repository and is never written here.
func (r *GormBookingRepository) Update(ctx context.Context, bk *bookingDomain.Booking, events []*bookingDomain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateBooking(tx, bk); err != nil {
			return err
		}
		return appendEvents(tx, bk.Version(), events)
	})
}

// updateBooking writes the mutable columns, guarded by the version the caller loaded.
// The caller must have called IncrementVersion.
func updateBooking(tx *gorm.DB, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	expectedVersion := bk.Version() - 1
	result := tx.Model(&BookingModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":              model.Status,
			"final_amount_poisha": model.FinalAmountPoisha,
			"check_in_at":         model.CheckInAt,
			"check_out_at":        model.CheckOutAt,
			"actual_hours":        model.ActualHours,
			"cancel_reason":       model.CancelReason,
			"payment_intent_id":   model.PaymentIntentID,
			"captured_poisha":     model.CapturedPoisha,
			"refunded_poisha":     model.RefundedPoisha,
			"version":             model.Version,
			"updated_at":          model.UpdatedAt,
		})

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError("payment intent is already linked to another booking")
		}
		return fmt.Errorf("failed to update booking: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking was modified by another transaction")
	}

	return nil
}

// appendEvents inserts events in order. seq is derived from the booking version of the
// write that produced them, so events sort by write and then by position in the write.
func appendEvents(tx *gorm.DB, version int64, events []*bookingDomain.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]BookingEventModel, len(events))
	for i, e := range events {
		models[i] = BookingEventModel{
			ID:         e.ID(),
			BookingID:  e.BookingID(),
			Seq:        version*100 + int64(i),
			Type:       string(e.Type()),
			Metadata:   datatypes.JSONMap(e.Metadata()),
			OccurredAt: e.OccurredAt(),
		}
	}
	if err := tx.Create(&models).Error; err != nil {
		return fmt.Errorf("failed to append booking events: %w", err)
	}
	return nil
}

func (r *GormBookingRepository) scoped(ctx context.Context, filter bookingDomain.ListFilter) *gorm.DB {
	q := r.db.WithContext(ctx)
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.ProfessionalID != nil {
		q = q.Where("professional_id = ?", *filter.ProfessionalID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	return q
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.Booking) *BookingModel {
	var intentID *string
	if id := bk.PaymentIntentID(); id != "" {
		intentID = &id
	}
	addr := bk.Address()
	return &BookingModel{
		ID:                bk.ID(),
		CustomerID:        bk.CustomerID(),
		ProfessionalID:    bk.ProfessionalID(),
		CategoryID:        bk.CategoryID(),
		Status:            string(bk.Status()),
		ScheduledAt:       bk.ScheduledAt(),
		AddressText:       addr.Text,
		AddressLat:        addr.Lat,
		AddressLng:        addr.Lng,
		Notes:             bk.Notes(),
		PricingModel:      string(bk.PricingModel()),
		QuotedPricePoisha: bk.QuotedPricePoisha(),
		CommissionPercent: bk.CommissionPercent(),
		FinalAmountPoisha: bk.FinalAmountPoisha(),
		CheckInAt:         bk.CheckInAt(),
		CheckOutAt:        bk.CheckOutAt(),
		ActualHours:       bk.ActualHours(),
		CancelReason:      bk.CancelReason(),
		PaymentIntentID:   intentID,
		CapturedPoisha:    bk.CapturedPoisha(),
		RefundedPoisha:    bk.RefundedPoisha(),
		SettledByPayoutID: bk.SettledByPayoutID(),
		Version:           bk.Version(),
		CreatedAt:         bk.CreatedAt(),
		UpdatedAt:         bk.UpdatedAt(),
	}
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}
	pricing, err := bookingDomain.ParsePricingModel(m.PricingModel)
	if err != nil {
		return nil, err
	}

	var intentID string
	if m.PaymentIntentID != nil {
		intentID = *m.PaymentIntentID
	}

	return bookingDomain.ReconstructBooking(bookingDomain.BookingSnapshot{
		ID:                m.ID,
		CustomerID:        m.CustomerID,
		ProfessionalID:    m.ProfessionalID,
		CategoryID:        m.CategoryID,
		Status:            status,
		ScheduledAt:       m.ScheduledAt,
		Address:           bookingDomain.Address{Text: m.AddressText, Lat: m.AddressLat, Lng: m.AddressLng},
		Notes:             m.Notes,
		PricingModel:      pricing,
		QuotedPricePoisha: m.QuotedPricePoisha,
		CommissionPercent: m.CommissionPercent,
		FinalAmountPoisha: m.FinalAmountPoisha,
		CheckInAt:         m.CheckInAt,
		CheckOutAt:        m.CheckOutAt,
		ActualHours:       m.ActualHours,
		CancelReason:      m.CancelReason,
		PaymentIntentID:   intentID,
		CapturedPoisha:    m.CapturedPoisha,
		RefundedPoisha:    m.RefundedPoisha,
		SettledByPayoutID: m.SettledByPayoutID,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}), nil
}

func toDomainBookings(models []BookingModel) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}
