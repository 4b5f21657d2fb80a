package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kaajbazar/service-booking/internal/domain/commission"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// CommissionSettingModel is the GORM model for the commission_settings table.
// scope_key is the category ID or "global", so a unique index also covers the null category.
type CommissionSettingModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CategoryID *uuid.UUID `gorm:"type:uuid"`
	ScopeKey   string     `gorm:"not null;size:64;uniqueIndex"`
	Percent    float64    `gorm:"not null"`
	CreatedAt  time.Time  `gorm:"not null"`
	UpdatedAt  time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (CommissionSettingModel) TableName() string {
	return "commission_settings"
}

// GormCommissionRepository is the GORM-based implementation of commission.Repository.
type GormCommissionRepository struct {
	db *gorm.DB
}

// NewGormCommissionRepository creates a new GormCommissionRepository.
func NewGormCommissionRepository(db *gorm.DB) *GormCommissionRepository {
	return &GormCommissionRepository{db: db}
}

// FindByID retrieves a setting by its unique identifier.
func (r *GormCommissionRepository) FindByID(ctx context.Context, id uuid.UUID) (*commission.Setting, error) {
	var model CommissionSettingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("CommissionSetting", id.String())
		}
		return nil, fmt.Errorf("failed to find commission setting: %w", err)
	}
	return toDomainSetting(&model), nil
}

// FindByCategory returns the category's setting, the global one for nil, or nil when absent.
func (r *GormCommissionRepository) FindByCategory(ctx context.Context, categoryID *uuid.UUID) (*commission.Setting, error) {
	var model CommissionSettingModel
	err := r.db.WithContext(ctx).Where("scope_key = ?", commission.ScopeKeyFor(categoryID)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find commission setting by category: %w", err)
	}
	return toDomainSetting(&model), nil
}

// List returns every setting with the global setting first.
func (r *GormCommissionRepository) List(ctx context.Context) ([]*commission.Setting, error) {
	var models []CommissionSettingModel
	if err := r.db.WithContext(ctx).
		Order("CASE WHEN category_id IS NULL THEN 0 ELSE 1 END, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list commission settings: %w", err)
	}

	settings := make([]*commission.Setting, len(models))
	for i := range models {
		settings[i] = toDomainSetting(&models[i])
	}
	return settings, nil
}

// Save persists a new setting.
func (r *GormCommissionRepository) Save(ctx context.Context, s *commission.Setting) error {
	model := toSettingModel(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError(fmt.Sprintf("commission setting for %s already exists", s.ScopeKey()))
		}
		return fmt.Errorf("failed to save commission setting: %w", err)
	}
	return nil
}

// Update persists a changed percent.
func (r *GormCommissionRepository) Update(ctx context.Context, s *commission.Setting) error {
	result := r.db.WithContext(ctx).
		Model(&CommissionSettingModel{}).
		Where("id = ?", s.ID()).
		Updates(map[string]interface{}{
			"percent":    s.Percent(),
			"updated_at": s.UpdatedAt(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update commission setting: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("CommissionSetting", s.ID().String())
	}
	return nil
}

// Delete removes a setting.
func (r *GormCommissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&CommissionSettingModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete commission setting: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("CommissionSetting", id.String())
	}
	return nil
}

func toSettingModel(s *commission.Setting) *CommissionSettingModel {
	return &CommissionSettingModel{
		ID:         s.ID(),
		CategoryID: s.CategoryID(),
		ScopeKey:   s.ScopeKey(),
		Percent:    s.Percent(),
		CreatedAt:  s.CreatedAt(),
		UpdatedAt:  s.UpdatedAt(),
	}
}

func toDomainSetting(m *CommissionSettingModel) *commission.Setting {
	return commission.ReconstructSetting(m.ID, m.CategoryID, m.Percent, m.CreatedAt, m.UpdatedAt)
}
