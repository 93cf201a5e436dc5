// Package channel provides the in-memory dispatch task bus between the
// scheduler/reconciler (producers) and the dispatcher worker pool.
package channel

import (
	"context"

	"mediremind/internal/domain"
)

// MetricsSink records bus saturation. Implementations must not block.
type MetricsSink interface {
	BufferCapacitySet(capacity int)
	BufferSizeUpdate(size int)
	EmitError()
}

type Option func(*TaskBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *TaskBus) { b.metrics = sink }
}

type TaskBus struct {
	ch      chan domain.DispatchTask
	metrics MetricsSink
}

func NewTaskBus(buffer int, opts ...Option) *TaskBus {
	b := &TaskBus{
		ch: make(chan domain.DispatchTask, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a task, blocking until there is buffer space or the context
// is cancelled. A full buffer therefore backpressures the producer rather
// than dropping work.
func (b *TaskBus) Emit(ctx context.Context, task domain.DispatchTask) error {
	select {
	case b.ch <- task:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *TaskBus) Channel() <-chan domain.DispatchTask {
	return b.ch
}
