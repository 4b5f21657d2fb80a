package commission

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// DefaultPercent applies when neither a category nor a global setting exists.
const DefaultPercent = 15.0

// GlobalScope is the scope key of the setting with no category.
const GlobalScope = "global"

// Setting is a commission rate for one category, or the global default when categoryID is nil.
type Setting struct {
	id         uuid.UUID
	categoryID *uuid.UUID
	percent    float64
	createdAt  time.Time
	updatedAt  time.Time
}

// NewSetting creates a commission setting.
func NewSetting(categoryID *uuid.UUID, percent float64, now time.Time) (*Setting, error) {
	if err := ValidatePercent(percent); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Setting{
		id:         uuid.New(),
		categoryID: categoryID,
		percent:    percent,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// ReconstructSetting rebuilds a Setting from persistence data.
func ReconstructSetting(id uuid.UUID, categoryID *uuid.UUID, percent float64, createdAt, updatedAt time.Time) *Setting {
	return &Setting{
		id:         id,
		categoryID: categoryID,
		percent:    percent,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

func (s *Setting) ID() uuid.UUID { return s.id }

// CategoryID is nil for the global setting.
func (s *Setting) CategoryID() *uuid.UUID { return s.categoryID }

func (s *Setting) Percent() float64 { return s.percent }

func (s *Setting) CreatedAt() time.Time { return s.createdAt }

func (s *Setting) UpdatedAt() time.Time { return s.updatedAt }

// IsGlobal reports whether this is the global default.
func (s *Setting) IsGlobal() bool { return s.categoryID == nil }

// ScopeKey is unique per setting: the category ID, or GlobalScope.
func (s *Setting) ScopeKey() string {
	return ScopeKeyFor(s.categoryID)
}

// UpdatePercent changes the rate. Bookings already created keep their frozen rate.
func (s *Setting) UpdatePercent(percent float64, now time.Time) error {
	if err := ValidatePercent(percent); err != nil {
		return err
	}
	s.percent = percent
	s.updatedAt = now.UTC()
	return nil
}

// ScopeKeyFor returns the scope key for a category, or GlobalScope for nil.
func ScopeKeyFor(categoryID *uuid.UUID) string {
	if categoryID == nil {
		return GlobalScope
	}
	return categoryID.String()
}

// ValidatePercent checks percent is within [0, 100].
func ValidatePercent(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return domain.NewValidationError("commission percent must be between 0 and 100")
	}
	return nil
}

// Breakdown is the result of splitting an amount between platform and professional.
type Breakdown struct {
	Amount            int64   `json:"amount"`
	CommissionPercent float64 `json:"commission_percent"`
	CommissionAmount  int64   `json:"commission_amount"`
	NetAmount         int64   `json:"net_amount"`
}

// Split rounds the commission once and derives the net by subtraction, so
// CommissionAmount + NetAmount == Amount always holds.
func Split(amount int64, percent float64) Breakdown {
	commission := int64(math.Round(float64(amount) * percent / 100))
	return Breakdown{
		Amount:            amount,
		CommissionPercent: percent,
		CommissionAmount:  commission,
		NetAmount:         amount - commission,
	}
}
