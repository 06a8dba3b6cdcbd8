package ledger

import "github.com/shopspring/decimal"

// Default shrinkage rates, in percent.
var (
	DefaultFillingShrinkage = decimal.NewFromInt(1)
	DefaultTankShrinkage    = decimal.NewFromInt(3)
)

var hundred = decimal.NewFromInt(100)

// Rates holds the shrinkage percentages applied to new ledger rows.
// Existing rows keep the percentage they were written with.
type Rates struct {
	Filling decimal.Decimal
	Tank    decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{Filling: DefaultFillingShrinkage, Tank: DefaultTankShrinkage}
}

// Shrinkage returns quantity × percentage / 100.
func Shrinkage(quantity, percentage decimal.Decimal) decimal.Decimal {
	return quantity.Mul(percentage).Div(hundred)
}
