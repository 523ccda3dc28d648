package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/beneficiary/internal/metrics"
	"github.com/rpattn/beneficiary/internal/platform/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dequeueRetryDelay = 250 * time.Millisecond

// Pool consumes tasks from a queue with a fixed number of workers and
// dispatches each one to the processor registered for its workflow.
type Pool struct {
	queue    Queue
	registry *Registry
	workers  int
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewPool creates a pool of workers consumers.
func NewPool(queue Queue, registry *Registry, workers int, m *metrics.Metrics, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{queue: queue, registry: registry, workers: workers, metrics: m, log: log}
}

// Run blocks until ctx is cancelled or the queue is closed. Cancellation
// stops dequeuing only: tasks already taken run to completion before Run
// returns. A failing task is logged and never stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.consume(gctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context, worker int) error {
	log := p.log.With(zap.Int("worker", worker))
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			log.Warn("failed to dequeue workflow task", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}
		p.metrics.DecQueueDepth()
		p.execute(context.WithoutCancel(ctx), log, task)
	}
}

func (p *Pool) execute(ctx context.Context, log *zap.Logger, task Task) {
	log = log.With(
		zap.String("workflow", task.Workflow),
		zap.String("upload_id", task.Payload.UploadUUID.String()),
	)

	processor, err := p.registry.Processor(task.Workflow)
	if err != nil {
		log.Error("dropping task for unregistered workflow", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("workflow panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := processor.Process(ctx, task.Payload); err != nil {
		log.Error("workflow failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.WithContext(ctx, log).Debug("workflow finished", zap.Duration("duration", time.Since(start)))
}
