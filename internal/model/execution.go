package model

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite is the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// FillMode 成交方式
type FillMode string

const (
	FillFOK    FillMode = "FOK"
	FillIOC    FillMode = "IOC"
	FillReturn FillMode = "RETURN"
)

// FillModes is the order in which variants are tried for every send.
var FillModes = []FillMode{FillFOK, FillIOC, FillReturn}

// RetcodeDone is the only return code treated as success.
const RetcodeDone = 10009

type OrderRequest struct {
	Symbol   string   `json:"symbol"`
	Volume   float64  `json:"volume"`
	Side     Side     `json:"side"`
	Price    float64  `json:"price,omitempty"`
	MagicID  int64    `json:"magic"`
	Comment  string   `json:"comment,omitempty"`
	FillMode FillMode `json:"type_filling"`
	// Position is set when the order closes an existing ticket.
	Position  uint64 `json:"position,omitempty"`
	Deviation int    `json:"deviation,omitempty"`
}

type OrderResult struct {
	Ticket  uint64 `json:"order"`
	Retcode int    `json:"retcode"`
	Comment string `json:"comment,omitempty"`
}

func (r OrderResult) Done() bool { return r.Retcode == RetcodeDone }

// MonitoredPosition mirrors a broker position. The broker stays authoritative.
type MonitoredPosition struct {
	Ticket    uint64    `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Volume    float64   `json:"volume"`
	OpenPrice float64   `json:"price_open"`
	Profit    float64   `json:"profit"`
	OpenTime  time.Time `json:"time"`
	MagicID   int64     `json:"magic"`
}

// TerminalInfo is the subset of terminal state the connection guard needs.
type TerminalInfo struct {
	Connected bool   `json:"connected"`
	Company   string `json:"company,omitempty"`
	Name      string `json:"name,omitempty"`
}
