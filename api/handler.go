package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pair-trader/internal/engine"
	"pair-trader/internal/market"
	"pair-trader/internal/model"
	"pair-trader/internal/monitor"
	"pair-trader/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StrategyService is the live strategy control surface.
type StrategyService interface {
	Start(ctx context.Context, cfg model.StrategyConfig) (monitor.Status, error)
	Stop(ctx context.Context, id string, closeTrades bool) (monitor.StopSummary, error)
	Get(id string) (monitor.Status, bool)
	List() []monitor.Status
}

type BacktestService interface {
	Run(ctx context.Context, cfg model.StrategyConfig, start, end time.Time) (model.BacktestReport, error)
}

type StreamService interface {
	Start(cfg model.StrategyConfig) (bool, error)
}

// BacktestHistory is optional; without it the history route answers 404.
type BacktestHistory interface {
	RecentBacktests(ctx context.Context, limit int) ([]storage.BacktestRun, error)
}

type Handler struct {
	strategies StrategyService
	backtests  BacktestService
	streams    StreamService
	history    BacktestHistory
	logger     *zap.Logger
}

func NewHandler(strategies StrategyService, backtests BacktestService, streams StreamService, history BacktestHistory, logger *zap.Logger) *Handler {
	return &Handler{
		strategies: strategies,
		backtests:  backtests,
		streams:    streams,
		history:    history,
		logger:     logger,
	}
}

func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/timeframes", h.Timeframes)

	g.POST("/strategies", h.StartStrategy)
	g.GET("/strategies", h.ListStrategies)
	g.GET("/strategies/:id", h.GetStrategy)
	g.POST("/strategies/:id/stop", h.StopStrategy)

	g.POST("/stream", h.StartStream)

	g.POST("/backtest", h.RunBacktest)
	g.GET("/backtests", h.ListBacktests)
}

func normalizeConfig(cfg *model.StrategyConfig) {
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = model.NormalizeSymbol(s)
	}
}

// Strategy Handlers

func (h *Handler) StartStrategy(c *gin.Context) {
	var cfg model.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	normalizeConfig(&cfg)

	status, err := h.strategies.Start(c.Request.Context(), cfg)
	if err != nil {
		h.fail(c, "failed to start strategy", err)
		return
	}
	h.logger.Info("strategy started", zap.String("strategy_id", status.ID), zap.Strings("symbols", status.Symbols))
	c.JSON(http.StatusOK, gin.H{"status": "started", "strategy": status})
}

func (h *Handler) StopStrategy(c *gin.Context) {
	id := c.Param("id")
	closeTrades := true
	if v := c.Query("close_trades"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "close_trades must be a boolean"})
			return
		}
		closeTrades = b
	}

	summary, err := h.strategies.Stop(c.Request.Context(), id, closeTrades)
	if err != nil {
		h.fail(c, "failed to stop strategy", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "id": id, "summary": summary})
}

func (h *Handler) ListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, h.strategies.List())
}

func (h *Handler) GetStrategy(c *gin.Context) {
	status, ok := h.strategies.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not running"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) StartStream(c *gin.Context) {
	var cfg model.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	normalizeConfig(&cfg)

	started, err := h.streams.Start(cfg)
	if err != nil {
		h.fail(c, "failed to start stream", err)
		return
	}
	status := "started"
	if !started {
		status = "already_running"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "id": cfg.ID})
}

func (h *Handler) Timeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": model.ValidTimeframes})
}

// Backtest Handlers

type backtestRequest struct {
	Config    model.StrategyConfig `json:"config"`
	StartDate string               `json:"start_date" binding:"required"`
	EndDate   string               `json:"end_date" binding:"required"`
}

func (h *Handler) RunBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}
	normalizeConfig(&req.Config)

	report, err := h.backtests.Run(c.Request.Context(), req.Config, start, end)
	if err != nil {
		h.fail(c, "backtest failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ListBacktests(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "backtest history is not stored"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.history.RecentBacktests(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to query backtests", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// parseDate accepts 2006-01-02 or RFC3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Warn(msg, zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrNotRunning):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrInsufficientData), errors.Is(err, engine.ErrNoSamples), errors.Is(err, market.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrFeedUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
