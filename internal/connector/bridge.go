package connector

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"pair-trader/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BridgeClient talks to the HTTP bridge in front of the trading terminal.
// It serves as price feed, terminal session and order executor.
type BridgeClient struct {
	client *resty.Client
	logger *zap.Logger
}

func NewBridgeClient(baseURL string, timeout time.Duration, logger *zap.Logger) *BridgeClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &BridgeClient{client: client, logger: logger}
}

// Wire formats. Prices travel as decimal strings, times as unix seconds.

type bridgeTick struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Volume string `json:"volume"`
	Time   int64  `json:"time"`
}

type bridgeRate struct {
	Time   int64  `json:"time"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"tick_volume"`
}

type bridgePosition struct {
	Ticket    uint64 `json:"ticket"`
	Symbol    string `json:"symbol"`
	Type      int    `json:"type"` // 0 buy, 1 sell
	Volume    string `json:"volume"`
	PriceOpen string `json:"price_open"`
	Profit    string `json:"profit"`
	Time      int64  `json:"time"`
	Magic     int64  `json:"magic"`
}

type bridgeOrder struct {
	Symbol    string `json:"symbol"`
	Volume    string `json:"volume"`
	Type      int    `json:"type"`
	Price     string `json:"price,omitempty"`
	Magic     int64  `json:"magic"`
	Comment   string `json:"comment,omitempty"`
	Filling   string `json:"type_filling"`
	Position  uint64 `json:"position,omitempty"`
	Deviation int    `json:"deviation,omitempty"`
}

type bridgeError struct {
	Error string `json:"error"`
}

func (c *BridgeClient) Initialize(ctx context.Context) error {
	return c.post(ctx, "/initialize", nil, nil)
}

func (c *BridgeClient) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", nil, nil)
}

func (c *BridgeClient) Info(ctx context.Context) (model.TerminalInfo, error) {
	var info model.TerminalInfo
	err := c.get(ctx, "/terminal", nil, &info)
	return info, err
}

func (c *BridgeClient) LatestTick(ctx context.Context, symbol string) (model.Tick, error) {
	var raw bridgeTick
	if err := c.get(ctx, "/ticks/"+symbol+"/latest", nil, &raw); err != nil {
		return model.Tick{}, err
	}
	return convertTick(symbol, raw), nil
}

func (c *BridgeClient) RecentTicks(ctx context.Context, symbol string, since time.Time, limit int) ([]model.Tick, error) {
	var raw []bridgeTick
	params := map[string]string{
		"from":  strconv.FormatInt(since.Unix(), 10),
		"count": strconv.Itoa(limit),
	}
	if err := c.get(ctx, "/ticks/"+symbol, params, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Tick, 0, len(raw))
	for _, t := range raw {
		out = append(out, convertTick(symbol, t))
	}
	return out, nil
}

func (c *BridgeClient) Bars(ctx context.Context, symbol string, timeframe int, start, end time.Time) ([]model.PriceBar, error) {
	var raw []bridgeRate
	params := map[string]string{
		"timeframe": strconv.Itoa(timeframe),
		"from":      strconv.FormatInt(start.Unix(), 10),
		"to":        strconv.FormatInt(end.Unix(), 10),
	}
	if err := c.get(ctx, "/rates/"+symbol, params, &raw); err != nil {
		return nil, err
	}
	return convertRates(raw), nil
}

func (c *BridgeClient) RecentBars(ctx context.Context, symbol string, timeframe, count int) ([]model.PriceBar, error) {
	var raw []bridgeRate
	params := map[string]string{
		"timeframe": strconv.Itoa(timeframe),
		"count":     strconv.Itoa(count),
	}
	if err := c.get(ctx, "/rates/"+symbol+"/recent", params, &raw); err != nil {
		return nil, err
	}
	return convertRates(raw), nil
}

func (c *BridgeClient) Positions(ctx context.Context, magic int64) ([]model.MonitoredPosition, error) {
	var raw []bridgePosition
	params := map[string]string{"magic": strconv.FormatInt(magic, 10)}
	if err := c.get(ctx, "/positions", params, &raw); err != nil {
		return nil, err
	}
	out := make([]model.MonitoredPosition, 0, len(raw))
	for _, p := range raw {
		// the bridge may ignore the filter, so check again
		if p.Magic != magic {
			continue
		}
		out = append(out, convertPosition(p))
	}
	return out, nil
}

// Send submits one order. A non-DONE retcode is not an error here.
func (c *BridgeClient) Send(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	body := bridgeOrder{
		Symbol:    req.Symbol,
		Volume:    decimal.NewFromFloat(req.Volume).String(),
		Type:      sideToType(req.Side),
		Magic:     req.MagicID,
		Comment:   req.Comment,
		Filling:   string(req.FillMode),
		Position:  req.Position,
		Deviation: req.Deviation,
	}
	if req.Price > 0 {
		body.Price = decimal.NewFromFloat(req.Price).String()
	}

	var res model.OrderResult
	if err := c.post(ctx, "/orders", body, &res); err != nil {
		return model.OrderResult{}, err
	}
	c.logger.Debug("order sent",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("filling", string(req.FillMode)),
		zap.Int("retcode", res.Retcode))
	return res, nil
}

func (c *BridgeClient) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		SetError(&bridgeError{}).
		Get(path)
	return checkResponse(resp, err, "GET "+path)
}

func (c *BridgeClient) post(ctx context.Context, path string, body, out interface{}) error {
	r := c.client.R().SetContext(ctx).SetError(&bridgeError{})
	if body != nil {
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Post(path)
	return checkResponse(resp, err, "POST "+path)
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrapf(err, "bridge %s", op)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	msg := resp.String()
	if e, ok := resp.Error().(*bridgeError); ok && e.Error != "" {
		msg = e.Error
	}
	return errors.Errorf("bridge %s: status %d: %s", op, resp.StatusCode(), msg)
}

func convertTick(symbol string, t bridgeTick) model.Tick {
	if t.Symbol != "" {
		symbol = t.Symbol
	}
	return model.Tick{
		Symbol: symbol,
		Bid:    parseFloat(t.Bid),
		Ask:    parseFloat(t.Ask),
		Volume: parseFloat(t.Volume),
		Time:   time.Unix(t.Time, 0).UTC(),
	}
}

func convertRates(raw []bridgeRate) []model.PriceBar {
	out := make([]model.PriceBar, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.PriceBar{
			Timestamp: time.Unix(r.Time, 0).UTC(),
			Open:      parseFloat(r.Open),
			High:      parseFloat(r.High),
			Low:       parseFloat(r.Low),
			Close:     parseFloat(r.Close),
			Volume:    parseFloat(r.Volume),
		})
	}
	return out
}

func convertPosition(p bridgePosition) model.MonitoredPosition {
	side := model.SideBuy
	if p.Type == 1 {
		side = model.SideSell
	}
	return model.MonitoredPosition{
		Ticket:    p.Ticket,
		Symbol:    p.Symbol,
		Side:      side,
		Volume:    parseFloat(p.Volume),
		OpenPrice: parseFloat(p.PriceOpen),
		Profit:    parseFloat(p.Profit),
		OpenTime:  time.Unix(p.Time, 0).UTC(),
		MagicID:   p.Magic,
	}
}

func sideToType(s model.Side) int {
	if s == model.SideSell {
		return 1
	}
	return 0
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
