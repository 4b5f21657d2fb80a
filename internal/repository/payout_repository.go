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
	"github.com/kaajbazar/service-booking/internal/domain/payout"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// PayoutModel is the GORM model for the payouts table.
type PayoutModel struct {
	ID             uuid.UUID                       `gorm:"type:uuid;primaryKey"`
	ProfessionalID uuid.UUID                       `gorm:"type:uuid;index;not null"`
	PeriodStart    time.Time                       `gorm:"not null"`
	PeriodEnd      time.Time                       `gorm:"not null"`
	AmountPoisha   int64                           `gorm:"not null"`
	Status         string                          `gorm:"not null;size:10;index"`
	Meta           datatypes.JSONType[payout.Meta] `gorm:"type:jsonb;not null"`
	PaidAt         *time.Time                      `gorm:""`
	PaymentMethod  string                          `gorm:"size:50"`
	Notes          string                          `gorm:"size:1000"`
	Version        int64                           `gorm:"not null;default:1"`
	CreatedAt      time.Time                       `gorm:"not null;index"`
	UpdatedAt      time.Time                       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (PayoutModel) TableName() string {
	return "payouts"
}

// GormPayoutRepository is the GORM-based implementation of payout.Repository.
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewGormPayoutRepository creates a new GormPayoutRepository.
func NewGormPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

// CreateWithClaims inserts the payout and claims its bookings in one transaction.
// A booking counts as claimable only while it is COMPLETED, belongs to the payout's
// professional and has no settled_by_payout_id. The claim also fails when a refund was
// recorded on the bookings after the payout was built.
func (r *GormPayoutRepository) CreateWithClaims(ctx context.Context, p *payout.Payout) error {
	model := toPayoutModel(p)
	ids := p.BookingIDs()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to save payout: %w", err)
		}

		result := tx.Model(&BookingModel{}).
			Where("id IN ?", ids).
			Where("professional_id = ?", p.ProfessionalID()).
			Where("status = ?", string(bookingDomain.StatusCompleted)).
			Where("settled_by_payout_id IS NULL").
			Updates(map[string]interface{}{
				"settled_by_payout_id": p.ID(),
				"version":              gorm.Expr("version + 1"),
				"updated_at":           p.CreatedAt(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to claim bookings for payout: %w", result.Error)
		}
		if result.RowsAffected != int64(len(ids)) {
			return domain.NewConflictError(fmt.Sprintf(
				"claimed %d of %d bookings; some were already settled", result.RowsAffected, len(ids)))
		}

		var refunded int64
		if err := tx.Model(&BookingModel{}).
			Where("id IN ?", ids).
			Select("CAST(COALESCE(SUM(refunded_poisha), 0) AS BIGINT)").
			Scan(&refunded).Error; err != nil {
			return fmt.Errorf("failed to check refunds of claimed bookings: %w", err)
		}
		if refunded != p.Meta().RefundedAtCreation {
			return domain.NewConflictError("bookings were refunded while the payout was being built")
		}
		return nil
	})
}

// FindByID retrieves a payout by its unique identifier.
func (r *GormPayoutRepository) FindByID(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	var model PayoutModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Payout", id.String())
		}
		return nil, fmt.Errorf("failed to find payout: %w", err)
	}
	return toDomainPayout(&model)
}

// List retrieves payouts matching the filter, newest first.
func (r *GormPayoutRepository) List(ctx context.Context, filter payout.Filter) ([]*payout.Payout, int64, error) {
	var total int64
	if err := r.scoped(ctx, filter).Model(&PayoutModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	q := r.scoped(ctx, filter).Order("created_at DESC")
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * filter.Limit).Limit(filter.Limit)
	}

	var models []PayoutModel
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list payouts: %w", err)
	}

	payouts, err := toDomainPayouts(models)
	if err != nil {
		return nil, 0, err
	}
	return payouts, total, nil
}

// FindDue returns PENDING payouts created at or before cutoff, oldest first.
func (r *GormPayoutRepository) FindDue(ctx context.Context, cutoff time.Time) ([]*payout.Payout, error) {
	var models []PayoutModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", string(payout.StatusPending), cutoff.UTC()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find due payouts: %w", err)
	}
	return toDomainPayouts(models)
}

// Update persists status changes with optimistic locking.
func (r *GormPayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	return updatePayout(r.db.WithContext(ctx), p)
}

// SaveRefund persists the refunded booking and its adjusted payout atomically.
func (r *GormPayoutRepository) SaveRefund(ctx context.Context, bk *bookingDomain.Booking, p *payout.Payout) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateBooking(tx, bk); err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		return updatePayout(tx, p)
	})
}

// updatePayout expects the caller to have called IncrementVersion.
func updatePayout(tx *gorm.DB, p *payout.Payout) error {
	model := toPayoutModel(p)
	result := tx.Model(&PayoutModel{}).
		Where("id = ? AND version = ?", model.ID, p.Version()-1).
		Updates(map[string]interface{}{
			"amount_poisha":  model.AmountPoisha,
			"status":         model.Status,
			"meta":           model.Meta,
			"paid_at":        model.PaidAt,
			"payment_method": model.PaymentMethod,
			"notes":          model.Notes,
			"version":        model.Version,
			"updated_at":     model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update payout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("payout was modified by another transaction")
	}
	return nil
}

func (r *GormPayoutRepository) scoped(ctx context.Context, filter payout.Filter) *gorm.DB {
	q := r.db.WithContext(ctx)
	if filter.ProfessionalID != nil {
		q = q.Where("professional_id = ?", *filter.ProfessionalID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at < ?", filter.CreatedTo.UTC())
	}
	return q
}

// --- Conversion Helpers ---

func toPayoutModel(p *payout.Payout) *PayoutModel {
	return &PayoutModel{
		ID:             p.ID(),
		ProfessionalID: p.ProfessionalID(),
		PeriodStart:    p.PeriodStart(),
		PeriodEnd:      p.PeriodEnd(),
		AmountPoisha:   p.AmountPoisha(),
		Status:         string(p.Status()),
		Meta:           datatypes.NewJSONType(p.Meta()),
		PaidAt:         p.PaidAt(),
		PaymentMethod:  p.PaymentMethod(),
		Notes:          p.Notes(),
		Version:        p.Version(),
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

func toDomainPayout(m *PayoutModel) (*payout.Payout, error) {
	status, err := payout.ParseStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return payout.Reconstruct(payout.Snapshot{
		ID:             m.ID,
		ProfessionalID: m.ProfessionalID,
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		AmountPoisha:   m.AmountPoisha,
		Status:         status,
		Meta:           m.Meta.Data(),
		PaidAt:         m.PaidAt,
		PaymentMethod:  m.PaymentMethod,
		Notes:          m.Notes,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}), nil
}

func toDomainPayouts(models []PayoutModel) ([]*payout.Payout, error) {
	payouts := make([]*payout.Payout, len(models))
	for i := range models {
		p, err := toDomainPayout(&models[i])
		if err != nil {
			return nil, err
		}
		payouts[i] = p
	}
	return payouts, nil
}
