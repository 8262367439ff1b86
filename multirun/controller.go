package multirun

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/metrics"
	"github.com/warriorguo/blockflow/types"
)

type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateCancelled     State = "cancelled"
	StateQuotaExceeded State = "quota_exceeded"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateQuotaExceeded
}

// Executor runs a saved workflow once, *client.Client is one.
type Executor interface {
	Execute(ctx context.Context, workflowID string, input types.Data) (*types.ExecutionResult, error)
}

type StatsRecorder interface {
	RecordRunStats(ctx context.Context, workflowID string, runs int) error
}

/**
 * CancelToken is set by the caller to stop a batch. The controller looks
 * at it before every run, a run already in flight is never interrupted.
 */
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

type Batch struct {
	WorkflowID string
	Input      types.Data
	Runs       int
}

type Progress struct {
	WorkflowID string
	Completed  int
	Total      int
	Result     *types.ExecutionResult
	Err        error
}

/**
 * Report is the terminal outcome of a batch. CompletedRuns counts every
 * run that was executed, whatever its result. Failures counts the runs
 * that errored or returned an unsuccessful result, Errors holds the
 * errors of the former.
 */
type Report struct {
	WorkflowID    string
	State         State
	Runs          int
	CompletedRuns int
	Failures      int
	Results       []*types.ExecutionResult
	Errors        []error
	Usage         *types.UsageSnapshot
	StartedAt     time.Time
	FinishedAt    time.Time
}

type Controller struct {
	opts     *types.ControllerOptions
	executor Executor
	quota    *QuotaChecker
	stats    StatsRecorder
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state State

	// OnProgress is called after every run, on the goroutine calling Run.
	OnProgress func(Progress)

	pending sync.WaitGroup
}

/**
 * NewController builds a controller running batches through executor.
 * quota and stats may be nil, a nil quota checker disables quota checks
 * and a nil recorder disables the statistics call.
 */
func NewController(executor Executor, quota *QuotaChecker, stats StatsRecorder, options ...types.ControllerOption) *Controller {
	opts := types.NewControllerOptions()
	for _, option := range options {
		option(opts)
	}
	return &Controller{
		opts:     opts,
		executor: executor,
		quota:    quota,
		stats:    stats,
		state:    StateIdle,
	}
}

func (c *Controller) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Wait blocks until the statistics calls of finished batches have returned.
func (c *Controller) Wait() {
	c.pending.Wait()
}

/**
 * Run executes the batch sequentially. The report is always returned,
 * the error is only set when the batch could not start. The controller
 * runs one batch at a time.
 */
func (c *Controller) Run(ctx context.Context, batch Batch, token *CancelToken) (*Report, error) {
	if batch.WorkflowID == "" {
		return nil, errors.BadRequestf("empty workflow id")
	}
	if batch.Runs <= 0 {
		return nil, errors.BadRequestf("runs must be positive, got %d", batch.Runs)
	}
	if token == nil {
		token = NewCancelToken()
	}

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return nil, errors.AlreadyExistsf("running batch")
	}
	c.state = StateRunning
	c.mu.Unlock()

	logger := log.WithFields(log.Fields{"workflowId": batch.WorkflowID, "runs": batch.Runs})
	report := &Report{
		WorkflowID: batch.WorkflowID,
		State:      StateRunning,
		Runs:       batch.Runs,
		Results:    make([]*types.ExecutionResult, 0, batch.Runs),
		StartedAt:  time.Now(),
	}

	state := c.run(ctx, batch, token, report, logger)
	report.State = state
	report.FinishedAt = time.Now()
	c.setState(state)
	c.metrics.RecordBatch(string(state), report.CompletedRuns)

	logger.WithFields(log.Fields{
		"state":     state,
		"completed": report.CompletedRuns,
		"failures":  report.Failures,
	}).Info("batch finished")

	if state == StateCompleted {
		c.recordStats(batch.WorkflowID, report.CompletedRuns, logger)
	}
	return report, nil
}

func (c *Controller) run(ctx context.Context, batch Batch, token *CancelToken, report *Report, logger *log.Entry) State {
	if c.quotaExceeded(ctx, false, report, logger) {
		return StateQuotaExceeded
	}

	interval := c.opts.QuotaCheckInterval
	for i := 0; i < batch.Runs; i++ {
		if token.Cancelled() || ctx.Err() != nil {
			logger.Infof("batch cancelled after %d runs", report.CompletedRuns)
			return StateCancelled
		}

		started := time.Now()
		result, err := c.executor.Execute(ctx, batch.WorkflowID, batch.Input.Clone())
		report.CompletedRuns++
		c.metrics.RecordExecution("remote", result != nil && result.Success, err, time.Since(started))

		switch {
		case err != nil:
			report.Failures++
			report.Errors = append(report.Errors, err)
			logger.WithError(err).Warnf("run %d failed", i+1)
		case !result.Success:
			report.Failures++
			report.Results = append(report.Results, result)
		default:
			report.Results = append(report.Results, result)
		}

		if c.OnProgress != nil {
			c.OnProgress(Progress{
				WorkflowID: batch.WorkflowID,
				Completed:  report.CompletedRuns,
				Total:      batch.Runs,
				Result:     result,
				Err:        err,
			})
		}

		last := report.CompletedRuns == batch.Runs
		if !last && interval > 0 && report.CompletedRuns%interval != 0 {
			continue
		}
		if c.quotaExceeded(ctx, true, report, logger) && !last {
			logger.Warnf("quota exceeded after %d runs", report.CompletedRuns)
			return StateQuotaExceeded
		}
	}
	return StateCompleted
}

// quotaExceeded fails open, a usage that cannot be fetched never stops a batch.
func (c *Controller) quotaExceeded(ctx context.Context, force bool, report *Report, logger *log.Entry) bool {
	if c.quota == nil {
		return false
	}
	usage, err := c.quota.Check(ctx, force)
	if err != nil {
		logger.WithError(err).Warn("quota check failed, continuing")
		return false
	}
	report.Usage = usage
	if usage.IsWarning && !usage.IsExceeded {
		logger.Warnf("usage at %.0f%% of the limit", usage.PercentUsed)
	}
	return usage.IsExceeded
}

func (c *Controller) recordStats(workflowID string, runs int, logger *log.Entry) {
	if c.stats == nil || !c.opts.RecordStats {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.stats.RecordRunStats(ctx, workflowID, runs); err != nil {
			logger.WithError(err).Warn("failed to record run statistics")
		}
	}()
}
