package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"pair-trader/internal/market"
	"pair-trader/internal/model"

	"go.uber.org/zap"
)

var errDown = errors.New("feed down")

type okTerminal struct{}

func (okTerminal) Initialize(context.Context) error { return nil }
func (okTerminal) Shutdown(context.Context) error   { return nil }
func (okTerminal) Info(context.Context) (model.TerminalInfo, error) {
	return model.TerminalInfo{Connected: true}, nil
}

type fakeQuotes struct {
	mu    sync.Mutex
	bars  map[string][]model.PriceBar
	ticks map[string]model.Tick
	err   error
}

func (q *fakeQuotes) LatestTick(_ context.Context, symbol string) (model.Tick, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return model.Tick{}, q.err
	}
	t, ok := q.ticks[symbol]
	if !ok {
		return model.Tick{}, market.ErrNoData
	}
	return t, nil
}

func (q *fakeQuotes) RecentBars(_ context.Context, symbol string, _ int, count int) ([]model.PriceBar, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	bars := q.bars[symbol]
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (q *fakeQuotes) setCloses(symbol string, closes ...float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = model.PriceBar{Timestamp: start.Add(time.Duration(i) * time.Hour), Close: c}
	}
	if q.bars == nil {
		q.bars = make(map[string][]model.PriceBar)
	}
	q.bars[symbol] = bars
}

type fakeExec struct {
	mu          sync.Mutex
	positions   []model.MonitoredPosition
	nextTicket  uint64
	reject      map[string]bool // symbol -> every fill mode rejected
	acceptMode  model.FillMode  // when set, only this mode succeeds
	sent        []model.OrderRequest
	positionErr error
	panicOnSend bool
	now         time.Time

	// when gate is set, every Send waits on it and the first closes entered
	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeExec() *fakeExec {
	return &fakeExec{nextTicket: 100, reject: map[string]bool{}, now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (e *fakeExec) Send(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if e.gate != nil {
		e.enterOnce.Do(func() { close(e.entered) })
		<-e.gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicOnSend {
		panic("venue exploded")
	}
	e.sent = append(e.sent, req)
	if e.reject[req.Symbol] || (e.acceptMode != "" && req.FillMode != e.acceptMode) {
		return model.OrderResult{Retcode: 10030, Comment: "unsupported filling mode"}, nil
	}
	if req.Position != 0 {
		out := e.positions[:0]
		for _, p := range e.positions {
			if p.Ticket != req.Position {
				out = append(out, p)
			}
		}
		e.positions = out
		return model.OrderResult{Ticket: req.Position, Retcode: model.RetcodeDone}, nil
	}
	e.nextTicket++
	e.positions = append(e.positions, model.MonitoredPosition{
		Ticket:    e.nextTicket,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		OpenPrice: req.Price,
		OpenTime:  e.now,
		MagicID:   req.MagicID,
	})
	return model.OrderResult{Ticket: e.nextTicket, Retcode: model.RetcodeDone}, nil
}

func (e *fakeExec) Positions(_ context.Context, magic int64) ([]model.MonitoredPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.positionErr != nil {
		return nil, e.positionErr
	}
	var out []model.MonitoredPosition
	for _, p := range e.positions {
		if p.MagicID == magic {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *fakeExec) sentOrders() []model.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.OrderRequest, len(e.sent))
	copy(out, e.sent)
	return out
}

func (e *fakeExec) open() []model.MonitoredPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.MonitoredPosition, len(e.positions))
	copy(out, e.positions)
	return out
}

type capturePublisher struct {
	mu    sync.Mutex
	snaps []model.IndicatorSnapshot
}

func (p *capturePublisher) Publish(_ string, snap model.IndicatorSnapshot) {
	p.mu.Lock()
	p.snaps = append(p.snaps, snap)
	p.mu.Unlock()
}

type captureRecorder struct {
	mu     sync.Mutex
	trades []model.Trade
}

func (r *captureRecorder) RecordLiveTrade(_ context.Context, _ string, t model.Trade) error {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
	return nil
}

type harness struct {
	quotes    *fakeQuotes
	exec      *fakeExec
	publisher *capturePublisher
	recorder  *captureRecorder
	deps      Deps
}

func newHarness() *harness {
	logger := zap.NewNop()
	h := &harness{
		quotes: &fakeQuotes{ticks: map[string]model.Tick{
			"EURUSD": {Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002},
			"GBPUSD": {Symbol: "GBPUSD", Bid: 1.3000, Ask: 1.3002},
		}},
		exec:      newFakeExec(),
		publisher: &capturePublisher{},
		recorder:  &captureRecorder{},
	}
	conn := market.NewConnection(okTerminal{}, logger)
	h.deps = Deps{
		Router:      NewOrderRouter(h.exec, conn, h.quotes, logger),
		Snapshotter: NewSnapshotter(h.quotes),
		Publisher:   h.publisher,
		Recorder:    h.recorder,
		Logger:      logger,
		Options:     Options{Interval: time.Millisecond, LockTimeout: 10 * time.Millisecond, MaxErrors: 5},
	}
	return h
}

func testConfig() model.StrategyConfig {
	return model.StrategyConfig{
		ID:                "live-1",
		Symbols:           []string{"EURUSD", "GBPUSD"},
		Lots:              []float64{1.0, 0.5},
		Timeframe:         60,
		RSIPeriod:         3,
		CorrelationWindow: 4,
		RSIOverbought:     70,
		RSIOversold:       30,
		EntryThreshold:    -0.3,
		ExitThreshold:     0.1,
		CooldownHours:     24,
		MagicID:           7,
		StartingBalance:   10000,
	}
}

// entrySignal makes EURUSD overbought, GBPUSD oversold and the pair anti-correlated.
func (h *harness) entrySignal() {
	h.quotes.setCloses("EURUSD", 1.10, 1.11, 1.12, 1.13)
	h.quotes.setCloses("GBPUSD", 1.30, 1.29, 1.28, 1.27)
}

// recovered makes the pair move together again.
func (h *harness) recovered() {
	h.quotes.setCloses("EURUSD", 1.10, 1.11, 1.12, 1.13)
	h.quotes.setCloses("GBPUSD", 1.27, 1.28, 1.29, 1.30)
}
