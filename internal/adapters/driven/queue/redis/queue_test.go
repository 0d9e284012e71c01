package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(client, "test-worker")
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	return q, mr
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewSyncScopeTask("cust-1")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("expected a task")
	}
	if got.ID != task.ID {
		t.Errorf("task id = %s, want %s", got.ID, task.ID)
	}
	if got.ScopeID() != "cust-1" {
		t.Errorf("scope id = %s, want cust-1", got.ScopeID())
	}
	if got.Status != domain.TaskStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := setupTestQueue(t)

	got, err := q.DequeueWithTimeout(context.Background(), 1)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil task, got %+v", got)
	}
}

func TestQueue_Ack(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewSyncAllTask()
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestQueue_NackRetries(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewSyncScopeTask("cust-2")
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Nack(ctx, task.ID, "board unreachable"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.TaskStatusPending {
		t.Errorf("status = %s, want pending (retryable)", got.Status)
	}
	if got.Error != "board unreachable" {
		t.Errorf("error = %q", got.Error)
	}

	// The retry is parked in the scheduled set with backoff
	if !mr.Exists(scheduledTasks) {
		t.Fatal("expected the task in the scheduled set")
	}
}

func TestQueue_NackExhaustsRetries(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewSyncScopeTask("cust-3")
	task.MaxAttempts = 1
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Nack(ctx, task.ID, "validation rejected"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.TaskStatusFailed {
		t.Errorf("status = %s, want failed (budget spent)", got.Status)
	}
}

func TestQueue_GetTaskMissing(t *testing.T) {
	q, _ := setupTestQueue(t)

	got, err := q.GetTask(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown task, got %+v", got)
	}
}

func TestQueue_Stats(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	for _, scope := range []string{"cust-1", "cust-2"} {
		if err := q.Enqueue(ctx, domain.NewSyncScopeTask(scope)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Errorf("pending = %d, want 2", stats.PendingCount)
	}
}
