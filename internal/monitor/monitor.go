package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"
	"pair-trader/internal/strategy"

	"go.uber.org/zap"
)

type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateMonitoring    State = "MONITORING"
	StateCheckingExit  State = "CHECKING_EXIT"
	StateCheckingEntry State = "CHECKING_ENTRY"
	StateStopping      State = "STOPPING"
	StateStopped       State = "STOPPED"
	StateFailed        State = "FAILED"
)

var ErrNotRunning = errors.New("strategy not running")

const (
	entryComment = "Auto-Trader"
	exitComment  = "Exit Strategy"
	stopComment  = "Strategy Stop Closure"
)

type Options struct {
	Interval    time.Duration
	LockTimeout time.Duration
	MaxErrors   int
}

func DefaultOptions() Options {
	return Options{
		Interval:    time.Second,
		LockTimeout: 500 * time.Millisecond,
		MaxErrors:   5,
	}
}

// StopSummary is returned by Stop even when some legs could not be closed.
type StopSummary struct {
	Closed    int `json:"closed_trades"`
	Failed    int `json:"failed_closures"`
	Remaining int `json:"remaining_trades"`
}

// entryInfo remembers the indicator values at entry for the trade record.
type entryInfo struct {
	legs        strategy.Legs
	correlation float64
	rsiA, rsiB  float64
}

// Monitor runs the live state machine for one strategy id.
type Monitor struct {
	cfg       model.StrategyConfig
	pair      *strategy.Pair
	router    *OrderRouter
	snaps     *Snapshotter
	publisher Publisher
	recorder  TradeRecorder
	logger    *zap.Logger
	opts      Options
	isActive  func(*Monitor) bool
	now       func() time.Time

	mu                sync.RWMutex
	state             State
	positions         []model.MonitoredPosition
	consecutiveErrors int
	lastError         string
	entry             *entryInfo

	lastTrade Slot[time.Time]
	stopping  atomic.Bool
	placing   atomic.Bool
	entryLock chan struct{}
	wake      chan struct{}
	wakeOnce  sync.Once
	done      chan struct{}
}

func newMonitor(pair *strategy.Pair, deps Deps, isActive func(*Monitor) bool) *Monitor {
	opts := deps.Options
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = def.MaxErrors
	}
	cfg := pair.Config()
	return &Monitor{
		cfg:       cfg,
		pair:      pair,
		router:    deps.Router,
		snaps:     deps.Snapshotter,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		logger:    deps.Logger.With(zap.String("strategy_id", cfg.ID), zap.Int64("magic", cfg.MagicID)),
		opts:      opts,
		isActive:  isActive,
		now:       time.Now,
		state:     StateInitializing,
		entryLock: make(chan struct{}, 1),
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Initialize adopts existing magic-tagged positions so a restarted monitor
// keeps honoring a cooldown that began before the restart.
func (m *Monitor) Initialize(ctx context.Context) error {
	positions, err := m.router.Positions(ctx, m.cfg.MagicID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	var latest time.Time
	for _, p := range positions {
		if p.OpenTime.After(latest) {
			latest = p.OpenTime
		}
	}

	m.mu.Lock()
	m.positions = positions
	m.mu.Unlock()

	if len(positions) == 0 {
		m.logger.Info("no existing trades found")
		return nil
	}
	m.lastTrade.Store(latest)
	m.logger.Info("loaded existing trades",
		zap.Int("count", len(positions)),
		zap.Time("last_trade_time", latest),
		zap.Duration("cooldown_remaining", m.pair.CooldownRemaining(latest, m.now())))
	return nil
}

// Run loops until the registry drops this monitor or a stop is requested.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	infrastructure.ActiveMonitors.Inc()
	defer infrastructure.ActiveMonitors.Dec()

	m.setState(StateMonitoring)
	m.logger.Info("monitor started", zap.Duration("interval", m.opts.Interval))

	for m.running() {
		if err := m.safeCycle(ctx); err != nil {
			if m.recordFailure(err) {
				m.setState(StateFailed)
				m.logger.Error("too many consecutive errors, monitor halted",
					zap.Int("errors", m.opts.MaxErrors), zap.Error(err))
				return
			}
		} else {
			m.recordSuccess()
		}

		timer := time.NewTimer(m.opts.Interval)
		select {
		case <-timer.C:
		case <-m.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			m.requestStop()
		}
	}
	m.logger.Info("monitor loop exited")
}

func (m *Monitor) running() bool {
	return !m.stopping.Load() && m.isActive(m)
}

func (m *Monitor) requestStop() {
	m.stopping.Store(true)
	m.wakeOnce.Do(func() { close(m.wake) })
}

// safeCycle turns a panic into a failed cycle.
func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			infrastructure.MonitorCycles.WithLabelValues(m.cfg.ID, "panic").Inc()
			err = fmt.Errorf("monitor cycle panic: %v", r)
		}
	}()
	return m.cycle(ctx)
}

func (m *Monitor) cycle(ctx context.Context) error {
	m.setState(StateMonitoring)
	if err := m.resync(ctx); err != nil {
		return err
	}

	snap, err := m.snaps.Indicators(ctx, m.cfg)
	if err != nil {
		return err
	}
	if prices, err := m.snaps.Prices(ctx, m.cfg); err == nil {
		snap.Prices = prices
	} else {
		m.logger.Debug("snapshot without prices", zap.Error(err))
	}
	if m.publisher != nil {
		m.publisher.Publish(m.cfg.ID, snap)
	}

	m.setState(StateCheckingExit)
	m.checkExit(ctx, snap)

	m.setState(StateCheckingEntry)
	m.tryEntry(ctx, snap)

	m.setState(StateMonitoring)
	return nil
}

// resync replaces the local view with the broker's, logging the ticket diff.
func (m *Monitor) resync(ctx context.Context) error {
	current, err := m.router.Positions(ctx, m.cfg.MagicID)
	if err != nil {
		return fmt.Errorf("resync positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[uint64]struct{}, len(m.positions))
	for _, p := range m.positions {
		known[p.Ticket] = struct{}{}
	}
	live := make(map[uint64]struct{}, len(current))
	for _, p := range current {
		live[p.Ticket] = struct{}{}
		if _, ok := known[p.Ticket]; !ok {
			m.logger.Info("monitoring new trade",
				zap.Uint64("ticket", p.Ticket),
				zap.String("symbol", p.Symbol),
				zap.String("side", string(p.Side)))
		}
	}
	for _, p := range m.positions {
		if _, ok := live[p.Ticket]; !ok {
			m.logger.Info("trade no longer active", zap.Uint64("ticket", p.Ticket), zap.String("symbol", p.Symbol))
		}
	}
	m.positions = current
	if len(current) == 0 {
		m.entry = nil
	}
	return nil
}

// checkExit closes both legs once correlation has recovered and the broker
// reports a positive combined profit, or when the holding limit is reached.
func (m *Monitor) checkExit(ctx context.Context, snap model.IndicatorSnapshot) {
	positions := m.Positions()
	if len(positions) == 0 || snap.Correlation == nil {
		return
	}
	legA := findLeg(positions, m.cfg.SymbolA())
	legB := findLeg(positions, m.cfg.SymbolB())
	if legA == nil || legB == nil {
		return
	}

	opened := legA.OpenTime
	if legB.OpenTime.Before(opened) {
		opened = legB.OpenTime
	}
	expired := m.pair.HoldingExceeded(opened, m.now())
	corr := *snap.Correlation
	if !expired && !m.pair.CorrelationRecovered(corr) {
		return
	}

	total := legA.Profit + legB.Profit
	if !expired && total <= 0 {
		m.logger.Debug("holding trades: correlation recovered but pair not profitable",
			zap.Float64("correlation", corr), zap.Float64("profit", total))
		return
	}

	m.logger.Info("exiting both trades",
		zap.Float64("correlation", corr),
		zap.Float64("profit", total),
		zap.Bool("max_holding", expired))

	priceA, errA := m.router.Close(ctx, *legA, exitComment)
	priceB, errB := m.router.Close(ctx, *legB, exitComment)
	if errA != nil || errB != nil {
		m.logger.Error("failed to close pair", zap.NamedError("leg_a", errA), zap.NamedError("leg_b", errB))
	}
	m.forget(legA.Ticket, errA == nil)
	m.forget(legB.Ticket, errB == nil)

	if errA == nil && errB == nil {
		m.recordTrade(ctx, *legA, *legB, priceA, priceB, snap)
	}
}

func (m *Monitor) forget(ticket uint64, closed bool) {
	if !closed {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.positions[:0]
	for _, p := range m.positions {
		if p.Ticket != ticket {
			out = append(out, p)
		}
	}
	m.positions = out
}

func (m *Monitor) recordTrade(ctx context.Context, legA, legB model.MonitoredPosition, exitA, exitB float64, snap model.IndicatorSnapshot) {
	long, short := legA, legB
	exitLong, exitShort := exitA, exitB
	if legA.Side == model.SideSell {
		long, short = legB, legA
		exitLong, exitShort = exitB, exitA
	}
	if exitLong == 0 {
		exitLong = long.OpenPrice
	}
	if exitShort == 0 {
		exitShort = short.OpenPrice
	}

	now := m.now()
	entryTime := long.OpenTime
	if short.OpenTime.Before(entryTime) {
		entryTime = short.OpenTime
	}
	longProfit := strategy.LegProfit(long.Symbol, long.OpenPrice, exitLong, long.Volume, true)
	shortProfit := strategy.LegProfit(short.Symbol, short.OpenPrice, exitShort, short.Volume, false)

	trade := model.Trade{
		EntryTime:       entryTime,
		ExitTime:        now,
		LongSymbol:      long.Symbol,
		ShortSymbol:     short.Symbol,
		LongEntryPrice:  long.OpenPrice,
		LongExitPrice:   exitLong,
		ShortEntryPrice: short.OpenPrice,
		ShortExitPrice:  exitShort,
		LongLot:         long.Volume,
		ShortLot:        short.Volume,
		DurationHours:   now.Sub(entryTime).Hours(),
		LongProfit:      longProfit,
		ShortProfit:     shortProfit,
		TotalProfit:     longProfit + shortProfit,
	}
	if snap.Correlation != nil {
		trade.ExitCorrelation = *snap.Correlation
	}
	longIsA := long.Symbol == m.cfg.SymbolA()
	if snap.RSIA != nil && snap.RSIB != nil {
		trade.ExitLongRSI, trade.ExitShortRSI = *snap.RSIB, *snap.RSIA
		if longIsA {
			trade.ExitLongRSI, trade.ExitShortRSI = *snap.RSIA, *snap.RSIB
		}
	}

	m.mu.Lock()
	if e := m.entry; e != nil {
		trade.EntryCorrelation = e.correlation
		trade.EntryLongRSI, trade.EntryShortRSI = e.rsiB, e.rsiA
		if e.legs.LongIsA() {
			trade.EntryLongRSI, trade.EntryShortRSI = e.rsiA, e.rsiB
		}
	}
	m.entry = nil
	m.mu.Unlock()

	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordLiveTrade(ctx, m.cfg.ID, trade); err != nil {
		m.logger.Error("failed to record live trade", zap.Error(err))
	}
}

// tryEntry applies the placing flag, cooldown and a bounded lock wait before
// evaluating entry. Lock contention skips the cycle.
func (m *Monitor) tryEntry(ctx context.Context, snap model.IndicatorSnapshot) {
	if m.placing.Load() {
		return
	}
	if m.pair.InCooldown(m.lastTrade.Load(), m.now()) {
		return
	}
	if !m.acquireEntryLock(m.opts.LockTimeout) {
		infrastructure.EntryLockSkips.WithLabelValues(m.cfg.ID).Inc()
		m.logger.Debug("timeout while waiting for entry lock, skipping")
		return
	}
	defer m.releaseEntryLock()

	m.placing.Store(true)
	defer m.placing.Store(false)
	m.checkEntry(ctx, snap)
}

func (m *Monitor) acquireEntryLock(timeout time.Duration) bool {
	select {
	case m.entryLock <- struct{}{}:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.entryLock <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (m *Monitor) releaseEntryLock() {
	<-m.entryLock
}

func (m *Monitor) checkEntry(ctx context.Context, snap model.IndicatorSnapshot) {
	if m.stopping.Load() || len(m.Positions()) > 0 {
		return
	}
	now := m.now()
	if m.pair.InCooldown(m.lastTrade.Load(), now) {
		return
	}
	if !snap.Complete() {
		return
	}
	dir := m.pair.EntryDirection(*snap.Correlation, *snap.RSIA, *snap.RSIB)
	if dir == strategy.NoEntry {
		return
	}
	legs := m.pair.Legs(dir)

	// the cooldown gate moves before any order leaves
	res := m.lastTrade.Reserve(now)
	defer res.Rollback()

	longPrice, shortPrice, err := m.placePair(ctx, legs)
	if err != nil {
		m.logger.Warn("trade placement failed, resetting last trade time",
			zap.Time("restored", res.Prior()), zap.Error(err))
		return
	}
	res.Commit()

	m.mu.Lock()
	m.entry = &entryInfo{
		legs:        legs,
		correlation: *snap.Correlation,
		rsiA:        *snap.RSIA,
		rsiB:        *snap.RSIB,
	}
	m.mu.Unlock()

	m.logger.Info("placed paired trades",
		zap.String("long", legs.Long),
		zap.String("short", legs.Short),
		zap.Float64("long_price", longPrice),
		zap.Float64("short_price", shortPrice),
		zap.Float64("correlation", *snap.Correlation),
		zap.Float64("rsi_a", *snap.RSIA),
		zap.Float64("rsi_b", *snap.RSIB))
}

// placePair opens the long leg then the short leg. A failed short leg closes
// the long leg again so no pair is left half open.
func (m *Monitor) placePair(ctx context.Context, legs strategy.Legs) (float64, float64, error) {
	comment := m.cfg.Comment
	if comment == "" {
		comment = entryComment
	}

	long, longPrice, err := m.router.Open(ctx, legs.Long, legs.LongLot, model.SideBuy, m.cfg.MagicID, comment)
	if err != nil {
		return 0, 0, fmt.Errorf("long leg %s: %w", legs.Long, err)
	}

	_, shortPrice, err := m.router.Open(ctx, legs.Short, legs.ShortLot, model.SideSell, m.cfg.MagicID, comment)
	if err != nil {
		pos := model.MonitoredPosition{
			Ticket:  long.Ticket,
			Symbol:  legs.Long,
			Side:    model.SideBuy,
			Volume:  legs.LongLot,
			MagicID: m.cfg.MagicID,
		}
		if _, cerr := m.router.Close(ctx, pos, exitComment); cerr != nil {
			m.logger.Error("failed to close long leg after short leg failure",
				zap.Uint64("ticket", long.Ticket), zap.Error(cerr))
		}
		return 0, 0, fmt.Errorf("short leg %s: %w", legs.Short, err)
	}
	return longPrice, shortPrice, nil
}

// Stop requests loop exit, waits for the in-flight cycle, then optionally
// closes every magic-tagged position. The wait ignores ctx: an entry that
// already started always completes first, and a cycle is bounded by the
// bridge timeouts. ctx only bounds the closing orders.
func (m *Monitor) Stop(ctx context.Context, closeTrades bool) StopSummary {
	m.requestStop()
	<-m.done

	if m.State() != StateFailed {
		m.setState(StateStopping)
	}
	var summary StopSummary
	if closeTrades {
		summary = m.closeAll(ctx)
	}
	if m.State() != StateFailed {
		m.setState(StateStopped)
	}
	m.logger.Info("strategy stopped",
		zap.Int("closed", summary.Closed),
		zap.Int("failed", summary.Failed),
		zap.Int("remaining", summary.Remaining))
	return summary
}

func (m *Monitor) closeAll(ctx context.Context) StopSummary {
	var s StopSummary
	positions, err := m.router.Positions(ctx, m.cfg.MagicID)
	if err != nil {
		m.logger.Error("failed to list positions for stop", zap.Error(err))
		s.Remaining = len(m.Positions())
		return s
	}
	for _, p := range positions {
		if _, err := m.router.Close(ctx, p, stopComment); err != nil {
			s.Failed++
			m.logger.Error("failed to close trade after all attempts", zap.Uint64("ticket", p.Ticket), zap.Error(err))
			continue
		}
		s.Closed++
	}

	remaining, err := m.router.Positions(ctx, m.cfg.MagicID)
	if err != nil {
		s.Remaining = s.Failed
	} else {
		s.Remaining = len(remaining)
	}
	m.mu.Lock()
	if err == nil {
		m.positions = remaining
	}
	m.mu.Unlock()
	return s
}

func (m *Monitor) recordFailure(err error) bool {
	infrastructure.MonitorCycles.WithLabelValues(m.cfg.ID, "failed").Inc()
	m.mu.Lock()
	m.consecutiveErrors++
	m.lastError = err.Error()
	n := m.consecutiveErrors
	m.mu.Unlock()
	m.logger.Error("error in monitoring loop", zap.Int("consecutive", n), zap.Error(err))
	return n >= m.opts.MaxErrors
}

func (m *Monitor) recordSuccess() {
	infrastructure.MonitorCycles.WithLabelValues(m.cfg.ID, "ok").Inc()
	m.mu.Lock()
	m.consecutiveErrors = 0
	m.mu.Unlock()
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Positions is a copy of the locally tracked broker positions.
func (m *Monitor) Positions() []model.MonitoredPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MonitoredPosition, len(m.positions))
	copy(out, m.positions)
	return out
}

// LastTradeTime is zero when no trade has been seen.
func (m *Monitor) LastTradeTime() time.Time { return m.lastTrade.Load() }

func (m *Monitor) Config() model.StrategyConfig { return m.cfg }

// Done is closed once the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func findLeg(positions []model.MonitoredPosition, symbol string) *model.MonitoredPosition {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}
