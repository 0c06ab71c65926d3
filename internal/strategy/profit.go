package strategy

import "strings"

// PipValuePerLot is the account-currency value of one pip on a standard lot.
const PipValuePerLot = 10.0

// PipSize returns 0.01 for yen-quoted symbols and 0.0001 otherwise.
func PipSize(symbol string) float64 {
	if strings.HasSuffix(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

// LegProfit converts the price move of one leg into account currency.
func LegProfit(symbol string, entry, exit, lot float64, long bool) float64 {
	sign := 1.0
	if !long {
		sign = -1.0
	}
	pips := (exit - entry) * sign / PipSize(symbol)
	return pips * PipValuePerLot * lot
}
