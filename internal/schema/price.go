package schema

import "github.com/shopspring/decimal"

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	return toTick(price, tick, decimal.Decimal.Round)
}

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick float64) float64 {
	return toTick(price, tick, func(d decimal.Decimal, _ int32) decimal.Decimal { return d.Floor() })
}

func toTick(price, tick float64, round func(decimal.Decimal, int32) decimal.Decimal) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	steps := round(decimal.NewFromFloat(price).Div(t), 0)
	return steps.Mul(t).InexactFloat64()
}
