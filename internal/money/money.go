// Package money validates and splits currency amounts. The engine works in a
// single currency with two minor-unit digits.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
)

// MinorUnits is the number of decimal places of the currency.
const MinorUnits = 2

var minorUnit = decimal.New(1, -MinorUnits)

// Round rounds half away from zero to the currency's minor unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// ValidatePositive rejects zero, negative and sub-minor-unit amounts.
func ValidatePositive(field string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errs.Wrap(errs.ErrInvalidAmount, "%s must be positive, got %s", field, amount.String())
	}
	if !amount.Equal(Round(amount)) {
		return errs.Wrap(errs.ErrInvalidAmount, "%s has more than %d decimal places: %s", field, MinorUnits, amount.String())
	}
	return nil
}

// Split divides total into n slices of total/n truncated to the minor unit;
// the last slice absorbs the remainder, so it is never smaller than the
// others and the slices always sum to total exactly. Totals below one minor
// unit per slice are rejected.
func Split(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, errs.Wrap(errs.ErrInvalidAmount, "cannot split into %d parts", n)
	}
	if err := ValidatePositive("total", total); err != nil {
		return nil, err
	}
	count := decimal.NewFromInt(int64(n))
	if total.LessThan(minorUnit.Mul(count)) {
		return nil, errs.Wrap(errs.ErrInvalidAmount, "total %s too small for %d installments", total.String(), n)
	}

	each := total.Div(count).RoundDown(MinorUnits)
	parts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		parts[i] = each
	}
	parts[n-1] = total.Sub(each.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts, nil
}

// Percent returns part/whole*100 rounded to two places; zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2)
}
