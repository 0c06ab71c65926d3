package model

import (
	"strings"
	"time"
)

// PriceBar 代表一根K线 (OHLCV)
type PriceBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// PriceSeries is an ordered run of bars for one symbol/timeframe.
type PriceSeries struct {
	Symbol    string     `json:"symbol"`
	Timeframe int        `json:"timeframe"` // minutes
	Bars      []PriceBar `json:"bars"`
}

// Closes returns the close prices in bar order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Tick 代表最新报价
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}

// IndicatorSnapshot is one evaluation of the pair indicators. Nil fields are unavailable.
type IndicatorSnapshot struct {
	StrategyID  string             `json:"strategy_id"`
	Timestamp   time.Time          `json:"timestamp"`
	SymbolA     string             `json:"symbol_a"`
	SymbolB     string             `json:"symbol_b"`
	Correlation *float64           `json:"correlation"`
	RSIA        *float64           `json:"rsi_a"`
	RSIB        *float64           `json:"rsi_b"`
	Prices      map[string]float64 `json:"current_prices,omitempty"`
	Thresholds  Thresholds         `json:"thresholds"`
}

// Thresholds echoes the strategy levels next to the indicator values.
type Thresholds struct {
	Entry         float64 `json:"entry"`
	Exit          float64 `json:"exit"`
	RSIOverbought float64 `json:"rsi_overbought"`
	RSIOversold   float64 `json:"rsi_oversold"`
}

// Complete reports whether all three indicators are available.
func (s IndicatorSnapshot) Complete() bool {
	return s.Correlation != nil && s.RSIA != nil && s.RSIB != nil
}

// OptionalFloat returns a pointer to v when ok, nil otherwise.
func OptionalFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// NormalizeSymbol unifies broker symbol spellings into a standard one (e.g. EURUSD)
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}
