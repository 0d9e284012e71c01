package services

import (
	"context"
	"testing"
	"time"

	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven/mocks"
)

func TestSchedulerEnqueuesOnTick(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{
		TaskQueue: queue,
		Interval:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait for at least one tick.
	deadline := time.After(time.Second)
	for queue.PendingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no task enqueued within a second")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()
}

func TestSchedulerSkipsWhenLockHeld(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockDistributedLock()
	lock.Deny = true

	s := NewScheduler(SchedulerConfig{
		TaskQueue: queue,
		Lock:      lock,
		Interval:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if n := queue.PendingCount(); n != 0 {
		t.Errorf("expected no tasks while lock is held elsewhere, got %d", n)
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{TaskQueue: queue, Interval: time.Hour})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	s.Stop()
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TaskQueue: mocks.NewMockTaskQueue()})
	s.Stop() // must not panic or block
}
