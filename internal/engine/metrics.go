package engine

import (
	"math"

	"pair-trader/internal/model"

	"github.com/shopspring/decimal"
)

// ProfitFactorNoLoss is reported instead of +Inf when no trade lost money.
const ProfitFactorNoLoss = 999999.0

// ledgerPlaces is the precision each trade's profit is booked at.
const ledgerPlaces = 8

var hundred = decimal.NewFromInt(100)

// bookedProfit is the trade's total profit as it enters the balance ledger.
func bookedProfit(t model.Trade) decimal.Decimal {
	return decimal.NewFromFloat(t.LongProfit + t.ShortProfit).Round(ledgerPlaces)
}

// CalculateMetrics derives the performance summary from a closed trade log.
// A trade with zero profit counts as a loss.
func CalculateMetrics(trades []model.Trade, initialBalance float64) model.PerformanceMetrics {
	if len(trades) == 0 {
		return model.PerformanceMetrics{
			PeakBalance:  initialBalance,
			FinalBalance: initialBalance,
		}
	}

	var (
		m           model.PerformanceMetrics
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
		maxDD       = decimal.Zero
		maxDDPct    = decimal.Zero
		hours       float64
		returns     = make([]float64, 0, len(trades))
	)
	initial := decimal.NewFromFloat(initialBalance)
	balance := initial
	peak := initial

	for _, t := range trades {
		p := bookedProfit(t)
		if p.IsPositive() {
			m.WinningTrades++
			grossProfit = grossProfit.Add(p)
		} else {
			m.LosingTrades++
			grossLoss = grossLoss.Add(p.Abs())
		}

		balance = balance.Add(p)
		if balance.GreaterThan(peak) {
			peak = balance
		}
		if balance.LessThan(peak) {
			dd := peak.Sub(balance)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
			if pct := dd.Div(peak).Mul(hundred); pct.GreaterThan(maxDDPct) {
				maxDDPct = pct
			}
		}

		pf, _ := p.Float64()
		returns = append(returns, pf)
		hours += t.ExitTime.Sub(t.EntryTime).Hours()
	}

	net := balance.Sub(initial)
	m.TotalTrades = len(trades)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.NetProfitDollars, _ = net.Float64()
	if !initial.IsZero() {
		m.NetProfitPercentage, _ = net.Div(initial).Mul(hundred).Float64()
	}
	m.MaxDrawdownDollars, _ = maxDD.Float64()
	m.MaxDrawdownPercentage, _ = maxDDPct.Float64()
	m.SharpeRatio = calculateSharpeRatio(returns)
	m.AvgTradeDuration = hours / float64(len(trades))
	if !grossLoss.IsZero() {
		m.ProfitFactor, _ = grossProfit.Div(grossLoss).Float64()
	} else {
		m.ProfitFactor = ProfitFactorNoLoss
	}
	m.PeakBalance, _ = peak.Float64()
	m.FinalBalance, _ = balance.Float64()
	return m
}

// calculateSharpeRatio annualizes the per-trade mean over the sample stdev.
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sumSqDiff float64
	for _, r := range returns {
		diff := r - mean
		sumSqDiff += diff * diff
	}
	stdDev := math.Sqrt(sumSqDiff / float64(len(returns)-1))

	sharpe := math.Sqrt(252) * mean / stdDev
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return 0
	}
	return sharpe
}

// EquityCurve is the running balance after each exit, booked the same way
// CalculateMetrics books it.
func EquityCurve(trades []model.Trade, initialBalance float64) []model.EquityPoint {
	out := make([]model.EquityPoint, 0, len(trades))
	balance := decimal.NewFromFloat(initialBalance)
	for _, t := range trades {
		balance = balance.Add(bookedProfit(t))
		equity, _ := balance.Float64()
		out = append(out, model.EquityPoint{Date: t.ExitTime, Equity: equity})
	}
	return out
}
