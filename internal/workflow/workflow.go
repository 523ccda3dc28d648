// Package workflow runs uploaded batches through validation and commit in
// the background. The orchestrator and the workers share nothing but the
// queue: a Workflow handle enqueues a Task and a Pool executes it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/beneficiary/internal/metrics"

	"github.com/google/uuid"
)

// ErrUnknownWorkflow is returned when no processor is registered under a name.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// TriggerPayload is the only contract between the orchestrator and a workflow.
type TriggerPayload struct {
	UserUUID   uuid.UUID `json:"user_uuid"`
	UploadUUID uuid.UUID `json:"upload_uuid"`
}

// Workflow is the handle the orchestrator schedules. Run must not wait for
// processing to finish.
type Workflow interface {
	Name() string
	Run(ctx context.Context, payload TriggerPayload) error
}

// Processor executes a workflow synchronously inside a worker.
type Processor interface {
	Process(ctx context.Context, payload TriggerPayload) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, payload TriggerPayload) error

func (f ProcessorFunc) Process(ctx context.Context, payload TriggerPayload) error {
	return f(ctx, payload)
}

// Registry maps workflow names to processors and hands out queued handles.
type Registry struct {
	mu         sync.RWMutex
	queue      Queue
	metrics    *metrics.Metrics
	processors map[string]Processor
}

// NewRegistry creates a registry whose handles enqueue on queue.
func NewRegistry(queue Queue, m *metrics.Metrics) *Registry {
	return &Registry{
		queue:      queue,
		metrics:    m,
		processors: make(map[string]Processor),
	}
}

// Register binds name to p, replacing any previous binding.
func (r *Registry) Register(name string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = p
}

// Processor returns the processor bound to name.
func (r *Registry) Processor(name string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	return p, nil
}

// Workflow returns a handle for name. It fails for names with no processor
// so that uploads naming a bogus workflow are rejected before persistence.
func (r *Registry) Workflow(name string) (Workflow, error) {
	if _, err := r.Processor(name); err != nil {
		return nil, err
	}
	return &QueuedWorkflow{name: name, queue: r.queue, metrics: r.metrics}, nil
}

// Names lists registered workflows in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueuedWorkflow is a fire-and-forget handle: Run only enqueues a Task.
type QueuedWorkflow struct {
	name    string
	queue   Queue
	metrics *metrics.Metrics
}

func (w *QueuedWorkflow) Name() string { return w.name }

func (w *QueuedWorkflow) Run(ctx context.Context, payload TriggerPayload) error {
	if err := w.queue.Enqueue(ctx, NewTask(w.name, payload)); err != nil {
		return fmt.Errorf("failed to enqueue workflow %s: %w", w.name, err)
	}
	w.metrics.IncQueueDepth()
	return nil
}
