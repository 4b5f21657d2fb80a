package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/domain/commission"
	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// CreateCommissionSettingRequest creates a category setting, or the global one when CategoryID is nil.
type CreateCommissionSettingRequest struct {
	CategoryID *uuid.UUID `json:"category_id"`
	Percent    float64    `json:"percent" validate:"gte=0,lte=100"`
}

// UpdateCommissionSettingRequest changes a setting's percent.
type UpdateCommissionSettingRequest struct {
	Percent float64 `json:"percent" validate:"gte=0,lte=100"`
}

// CommissionSettingDTO is the response representation of a commission setting.
type CommissionSettingDTO struct {
	ID         uuid.UUID  `json:"id"`
	CategoryID *uuid.UUID `json:"category_id"`
	Scope      string     `json:"scope"`
	Percent    float64    `json:"percent"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CommissionCalculationDTO is the split of an amount between platform and professional.
type CommissionCalculationDTO struct {
	Amount            int64      `json:"amount"`
	CommissionPercent float64    `json:"commission_percent"`
	CommissionAmount  int64      `json:"commission_amount"`
	NetAmount         int64      `json:"net_amount"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	CategoryName      string     `json:"category_name,omitempty"`
}

// CommissionService resolves commission rates and manages their settings.
type CommissionService struct {
	repo      commission.Repository
	bookings  bookingDomain.BookingRepository
	directory directory.Directory
	clock     clock.Clock
	logger    *zap.Logger
}

// NewCommissionService creates a new CommissionService.
func NewCommissionService(
	repo commission.Repository,
	bookings bookingDomain.BookingRepository,
	dir directory.Directory,
	clk clock.Clock,
	logger *zap.Logger,
) *CommissionService {
	return &CommissionService{
		repo:      repo,
		bookings:  bookings,
		directory: dir,
		clock:     clk,
		logger:    logger.Named("commission"),
	}
}

// GetCommissionPercent resolves the rate for a category: its own setting, then the global
// setting, then DefaultPercent.
func (s *CommissionService) GetCommissionPercent(ctx context.Context, categoryID *uuid.UUID) (float64, error) {
	if categoryID != nil {
		setting, err := s.repo.FindByCategory(ctx, categoryID)
		if err != nil {
			return 0, err
		}
		if setting != nil {
			return setting.Percent(), nil
		}
	}

	global, err := s.repo.FindByCategory(ctx, nil)
	if err != nil {
		return 0, err
	}
	if global != nil {
		return global.Percent(), nil
	}
	return commission.DefaultPercent, nil
}

// CalculateCommission splits amount at the rate that applies to categoryID.
func (s *CommissionService) CalculateCommission(ctx context.Context, amountPoisha int64, categoryID *uuid.UUID) (*CommissionCalculationDTO, error) {
	if amountPoisha < 0 {
		return nil, domain.NewValidationError("amount cannot be negative")
	}

	var categoryName string
	if categoryID != nil {
		category, err := s.directory.FindCategory(ctx, *categoryID)
		if err != nil {
			return nil, err
		}
		categoryName = category.Name
	}

	percent, err := s.GetCommissionPercent(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	split := commission.Split(amountPoisha, percent)
	return &CommissionCalculationDTO{
		Amount:            split.Amount,
		CommissionPercent: split.CommissionPercent,
		CommissionAmount:  split.CommissionAmount,
		NetAmount:         split.NetAmount,
		CategoryID:        categoryID,
		CategoryName:      categoryName,
	}, nil
}

// CalculateCommissionForBooking splits the booking's final amount, or its quote before
// completion, at the rate currently configured for its category.
func (s *CommissionService) CalculateCommissionForBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*CommissionCalculationDTO, error) {
	bk, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !bk.IsParticipant(actor.ID) {
		return nil, domain.NewForbiddenError("booking does not belong to this user")
	}

	categoryID := bk.CategoryID()
	return s.CalculateCommission(ctx, bk.SettlementAmountPoisha(), &categoryID)
}

// ListCommissionSettings returns every setting (admin).
func (s *CommissionService) ListCommissionSettings(ctx context.Context, actor Actor) ([]CommissionSettingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission settings: %w", err)
	}
	dtos := make([]CommissionSettingDTO, len(settings))
	for i, st := range settings {
		dtos[i] = toCommissionSettingDTO(st)
	}
	return dtos, nil
}

// CreateCommissionSetting adds a setting (admin). The category must exist and must not
// already have a setting; the same holds for the global setting.
func (s *CommissionService) CreateCommissionSetting(ctx context.Context, actor Actor, req CreateCommissionSettingRequest) (*CommissionSettingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.CategoryID != nil {
		if _, err := s.directory.FindCategory(ctx, *req.CategoryID); err != nil {
			return nil, err
		}
	}

	existing, err := s.repo.FindByCategory(ctx, req.CategoryID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.NewConflictError(fmt.Sprintf("commission setting for %s already exists", existing.ScopeKey()))
	}

	setting, err := commission.NewSetting(req.CategoryID, req.Percent, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, setting); err != nil {
		return nil, err
	}

	s.logger.Info("commission setting created",
		zap.String("scope", setting.ScopeKey()),
		zap.Float64("percent", setting.Percent()),
		zap.String("actor_id", actor.ID.String()),
	)
	result := toCommissionSettingDTO(setting)
	return &result, nil
}

// UpdateCommissionSetting changes a setting's percent (admin). Existing bookings keep the
// rate frozen on them.
func (s *CommissionService) UpdateCommissionSetting(ctx context.Context, actor Actor, id uuid.UUID, req UpdateCommissionSettingRequest) (*CommissionSettingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	setting, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := setting.UpdatePercent(req.Percent, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, setting); err != nil {
		return nil, err
	}

	s.logger.Info("commission setting updated",
		zap.String("scope", setting.ScopeKey()),
		zap.Float64("percent", setting.Percent()),
		zap.String("actor_id", actor.ID.String()),
	)
	result := toCommissionSettingDTO(setting)
	return &result, nil
}

// DeleteCommissionSetting removes a setting (admin).
func (s *CommissionService) DeleteCommissionSetting(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("commission setting deleted",
		zap.String("setting_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return nil
}

func toCommissionSettingDTO(s *commission.Setting) CommissionSettingDTO {
	return CommissionSettingDTO{
		ID:         s.ID(),
		CategoryID: s.CategoryID(),
		Scope:      s.ScopeKey(),
		Percent:    s.Percent(),
		CreatedAt:  s.CreatedAt(),
		UpdatedAt:  s.UpdatedAt(),
	}
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return domain.NewForbiddenError("administrator role required")
	}
	return nil
}
