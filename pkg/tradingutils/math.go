package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified number of decimals.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// FloorQuantity truncates a quantity down to the specified number of
// decimals. Order sizing always rounds down so a computed quantity never
// exceeds what the balance supports.
func FloorQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.RoundDown(int32(qtyDecimals))
}

// WeightedAverage returns the quantity-weighted mean of two price/quantity
// pairs. Used to re-average a position entry price on same-side fills.
func WeightedAverage(p1, q1, p2, q2 decimal.Decimal) decimal.Decimal {
	total := q1.Add(q2)
	if total.IsZero() {
		return decimal.Zero
	}
	return p1.Mul(q1).Add(p2.Mul(q2)).Div(total)
}

// Commission computes qty * price * rate.
func Commission(qty, price, rate decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(rate)
}

// SignedQuantity returns qty for a buy and -qty for a sell. The trade-log
// invariant (position size equals the sum of signed trade quantities) is
// stated in these terms.
func SignedQuantity(side string, qty decimal.Decimal) decimal.Decimal {
	if side == "SELL" {
		return qty.Neg()
	}
	return qty
}
