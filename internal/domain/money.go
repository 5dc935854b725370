package domain

import "github.com/shopspring/decimal"

// moneyPlaces is the smallest currency unit (pence).
const moneyPlaces = 2

// TruncateMoney rounds an amount down (towards zero) to whole pence.
// Used for stakes so a rounded order never exceeds what the math allows.
func TruncateMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Truncate(moneyPlaces).Float64()
	return f
}

// RoundMoney rounds an amount half away from zero to whole pence.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(moneyPlaces).Float64()
	return f
}
