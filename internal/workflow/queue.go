package workflow

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by a queue after Close.
var ErrQueueClosed = errors.New("workflow queue closed")

// Task is the message placed on a Queue for one workflow run.
type Task struct {
	Workflow   string         `json:"workflow"`
	Payload    TriggerPayload `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewTask stamps a task for workflow.
func NewTask(workflow string, payload TriggerPayload) Task {
	return Task{Workflow: workflow, Payload: payload, EnqueuedAt: time.Now().UTC()}
}

// Queue carries tasks from the orchestrator to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// MemoryQueue is an in-process queue backed by a buffered channel.
type MemoryQueue struct {
	tasks  chan Task
	closed chan struct{}
}

// NewMemoryQueue creates a queue holding up to buffer pending tasks.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer < 0 {
		buffer = 0
	}
	return &MemoryQueue{
		tasks:  make(chan Task, buffer),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	case q.tasks <- task:
		return nil
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-q.closed:
		return Task{}, ErrQueueClosed
	case task := <-q.tasks:
		return task, nil
	}
}

// Len reports tasks waiting to be picked up.
func (q *MemoryQueue) Len() int { return len(q.tasks) }

// Close stops the queue. Pending tasks are dropped.
func (q *MemoryQueue) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}
