package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mediremind/internal/domain"
)

type mockMetrics struct {
	mu         sync.Mutex
	capacity   int
	sizes      []int
	emitErrors int
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func task() domain.DispatchTask {
	return domain.DispatchTask{
		JobID:     uuid.New(),
		UserID:    uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestEmit_DeliversInOrder(t *testing.T) {
	bus := NewTaskBus(4)

	first := task()
	second := task()
	if err := bus.Emit(context.Background(), first); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := bus.Emit(context.Background(), second); err != nil {
		t.Fatalf("emit: %v", err)
	}

	got := <-bus.Channel()
	if got.JobID != first.JobID {
		t.Errorf("expected first task, got job %s", got.JobID)
	}
	got = <-bus.Channel()
	if got.JobID != second.JobID {
		t.Errorf("expected second task, got job %s", got.JobID)
	}
}

func TestEmit_FullBufferBlocksUntilCancel(t *testing.T) {
	sink := &mockMetrics{}
	bus := NewTaskBus(1, WithMetrics(sink))

	if err := bus.Emit(context.Background(), task()); err != nil {
		t.Fatalf("emit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bus.Emit(ctx, task())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.emitErrors != 1 {
		t.Errorf("emit errors = %d, want 1", sink.emitErrors)
	}
}

func TestEmit_UnblocksWhenConsumed(t *testing.T) {
	bus := NewTaskBus(1)

	if err := bus.Emit(context.Background(), task()); err != nil {
		t.Fatalf("emit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- bus.Emit(context.Background(), task())
	}()

	<-bus.Channel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("emit after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("emit did not unblock after consumer freed the buffer")
	}
}

func TestNewTaskBus_ReportsCapacity(t *testing.T) {
	sink := &mockMetrics{}
	NewTaskBus(64, WithMetrics(sink))

	if sink.capacity != 64 {
		t.Errorf("capacity = %d, want 64", sink.capacity)
	}
}
