package engine

import (
	"context"
	"errors"
	"time"

	"pair-trader/internal/model"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("backtest queue full")

type backtestJob struct {
	Config model.StrategyConfig
	Start  time.Time
	End    time.Time
	ctx    context.Context
	result chan jobResult
}

type jobResult struct {
	report model.BacktestReport
	err    error
}

// WorkerPool bounds how many backtests run at once.
type WorkerPool struct {
	jobQueue    chan backtestJob
	workerCount int
	runner      *Runner
	logger      *zap.Logger
}

func NewWorkerPool(workerCount int, bufferSize int, runner *Runner, logger *zap.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		jobQueue:    make(chan backtestJob, bufferSize),
		workerCount: workerCount,
		runner:      runner,
		logger:      logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(ctx, i)
	}
	p.logger.Info("started backtest worker pool", zap.Int("workers", p.workerCount))
}

// Run queues a backtest and waits for its report. It never blocks on a full queue.
func (p *WorkerPool) Run(ctx context.Context, cfg model.StrategyConfig, start, end time.Time) (model.BacktestReport, error) {
	job := backtestJob{Config: cfg, Start: start, End: end, ctx: ctx, result: make(chan jobResult, 1)}

	select {
	case p.jobQueue <- job:
	default:
		p.logger.Warn("backtest queue full, rejecting job", zap.String("pair", cfg.Name))
		return model.BacktestReport{}, ErrQueueFull
	}

	select {
	case <-ctx.Done():
		return model.BacktestReport{}, ctx.Err()
	case res := <-job.result:
		return res.report, res.err
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.process(id, job)
		}
	}
}

func (p *WorkerPool) process(workerID int, job backtestJob) {
	if err := job.ctx.Err(); err != nil {
		job.result <- jobResult{err: err}
		return
	}
	p.logger.Debug("worker running backtest",
		zap.Int("worker_id", workerID),
		zap.Strings("pairs", job.Config.Symbols),
	)
	report, err := p.runner.Run(job.ctx, job.Config, job.Start, job.End)
	job.result <- jobResult{report: report, err: err}
}
