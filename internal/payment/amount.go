package payment

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount such as 499.50 to minor units (49950), rounding
// half away from zero. The result must be positive.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, apperrors.NewValidationError("amount must be greater than zero",
			map[string]any{"amount": amount.String()})
	}
	if !minor.BigInt().IsInt64() {
		return 0, apperrors.NewValidationError("amount too large", map[string]any{"amount": amount.String()})
	}
	return minor.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits, used when rendering amounts.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
