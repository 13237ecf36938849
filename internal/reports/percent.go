package reports

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Percentage returns 100*part/whole rounded to two decimal places, or 0 when
// whole is zero.
func Percentage(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	v, _ := decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2).Float64()
	return v
}

// Quotient returns num/den rounded to two decimal places, or 0 when den is
// zero.
func Quotient(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	v, _ := num.Div(den).Round(2).Float64()
	return v
}
