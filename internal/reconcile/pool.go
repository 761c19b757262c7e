package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
)

const (
	defaultWorkers     = 8
	defaultQueueSize   = 256
	defaultTaskTimeout = 45 * time.Second
	defaultMaxAttempts = 4
	defaultBaseBackoff = 250 * time.Millisecond
)

// PoolParams configures the in-process dispatcher.
type PoolParams struct {
	Runner      Runner
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	MaxAttempts uint64
	BaseBackoff time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.BillingMetrics
}

// Pool runs tasks on a fixed set of workers. Each customer id hashes onto a
// single worker, so tasks for one customer never run concurrently and run in
// dispatch order within this process.
type Pool struct {
	runner      Runner
	queues      []chan Task
	taskTimeout time.Duration
	maxAttempts uint64
	baseBackoff time.Duration
	logg        *logger.Logger
	metrics     *metrics.BillingMetrics

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool validates params and allocates the worker queues. Call Start to
// begin processing.
func NewPool(params PoolParams) (*Pool, error) {
	if params.Runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	perWorker := queueSize / workers
	if perWorker < 1 {
		perWorker = 1
	}

	p := &Pool{
		runner:      params.Runner,
		queues:      make([]chan Task, workers),
		taskTimeout: params.TaskTimeout,
		maxAttempts: params.MaxAttempts,
		baseBackoff: params.BaseBackoff,
		logg:        params.Logger,
		metrics:     params.Metrics,
	}
	if p.taskTimeout <= 0 {
		p.taskTimeout = defaultTaskTimeout
	}
	if p.maxAttempts == 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.baseBackoff <= 0 {
		p.baseBackoff = defaultBaseBackoff
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, perWorker)
	}
	return p, nil
}

// Start launches the workers. Tasks run under ctx, not under the context of
// the request that dispatched them.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.work(runCtx, queue)
	}
}

// Dispatch enqueues task without blocking. It fails with ErrQueueFull when
// the customer's worker is saturated and ErrClosed after Shutdown.
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.IncDropped()
		return ErrClosed
	}

	queue := p.queues[p.partition(task.CustomerID)]
	select {
	case queue <- task:
		p.metrics.AddQueueDepth(1)
		return nil
	default:
		p.metrics.IncDropped()
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued tasks to finish. When ctx ends
// first, in-flight tasks are canceled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, queue := range p.queues {
		close(queue)
	}
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return ctx.Err()
	}
}

func (p *Pool) partition(customerID string) int {
	return int(xxhash.Sum64String(customerID) % uint64(len(p.queues)))
}

func (p *Pool) work(ctx context.Context, queue <-chan Task) {
	defer p.wg.Done()
	for task := range queue {
		p.metrics.AddQueueDepth(-1)
		p.execute(ctx, task)
	}
}

func (p *Pool) execute(ctx context.Context, task Task) {
	backoff := retry.NewExponential(p.baseBackoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(p.maxAttempts-1, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()

		err := p.runner.Run(taskCtx, task, attempt)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return
	}

	logCtx := p.logg.WithEvent(ctx, task.EventID, task.EventType)
	logCtx = p.logg.WithFields(logCtx, map[string]any{
		"customer_id": task.CustomerID,
		"attempt":     attempt,
	})
	p.logg.Error(logCtx, "reconcile task abandoned", err)
}
