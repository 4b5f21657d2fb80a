package booking

import (
	"fmt"
	"math"
	"strings"

	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// PricingModel decides how the final amount is derived from the quote.
type PricingModel string

const (
	PricingHourly PricingModel = "HOURLY"
	PricingFixed  PricingModel = "FIXED"
)

// IsValid returns true if the pricing model is recognized.
func (m PricingModel) IsValid() bool {
	return m == PricingHourly || m == PricingFixed
}

// ParsePricingModel converts a string to a PricingModel.
func ParsePricingModel(s string) (PricingModel, error) {
	m := PricingModel(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("invalid pricing model: %s", s)
	}
	return m, nil
}

// FinalAmount computes the settled amount in poisha.
//
//   - HOURLY: quoted hourly rate times the hours worked, rounded to the nearest poisha
//   - FIXED: the quote unchanged
func FinalAmount(model PricingModel, quotedPoisha int64, actualHours *float64) (int64, error) {
	switch model {
	case PricingFixed:
		return quotedPoisha, nil
	case PricingHourly:
		if actualHours == nil || *actualHours <= 0 {
			return 0, domain.NewValidationError("actual hours must be positive for hourly bookings")
		}
		return int64(math.Round(float64(quotedPoisha) * *actualHours)), nil
	default:
		return 0, domain.NewValidationError(fmt.Sprintf("invalid pricing model: %s", model))
	}
}

// roundHours keeps two decimal places, which is what the billing sheet shows.
func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
