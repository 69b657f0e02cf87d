package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueProcessesInOrder(t *testing.T) {
	q := New(10, 1, nil)
	var mu sync.Mutex
	var got []int64
	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(context.Background(), i, i*10); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", q.Pending())
	}

	q.Start(func(_ context.Context, item Item) error {
		mu.Lock()
		defer mu.Unlock()
		if item.TempFileID != item.TaskID*10 {
			t.Errorf("item = %+v", item)
		}
		got = append(got, item.TaskID)
		return nil
	})
	q.Stop()

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("processed = %v, want [1 2 3]", got)
	}
}

func TestQueueSurvivesErrorsAndPanics(t *testing.T) {
	q := New(10, 1, nil)
	var processed atomic.Int32
	q.Start(func(_ context.Context, item Item) error {
		processed.Add(1)
		switch item.TaskID {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		}
		return nil
	})
	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(context.Background(), i, 0); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Stop()

	if processed.Load() != 3 {
		t.Fatalf("processed = %d, want 3", processed.Load())
	}
}

func TestSingleWorkerNeverOverlaps(t *testing.T) {
	q := New(10, 1, nil)
	var running, maxRunning atomic.Int32
	q.Start(func(context.Context, Item) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	for i := int64(1); i <= 5; i++ {
		_ = q.Enqueue(context.Background(), i, 0)
	}
	q.Stop()

	if maxRunning.Load() != 1 {
		t.Fatalf("max concurrent = %d, want 1", maxRunning.Load())
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(1, 1, nil)
	q.Start(func(context.Context, Item) error { return nil })
	q.Stop()
	q.Stop()

	if err := q.Enqueue(context.Background(), 1, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestEnqueueHonoursContextWhenFull(t *testing.T) {
	q := New(0, 1, nil)
	// fill the single slot reserved for the worker sentinel
	if err := q.Enqueue(context.Background(), 1, 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 2, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestStopWithoutStartReturnsPending(t *testing.T) {
	q := New(1, 1, nil)
	for i := int64(1); i <= 2; i++ {
		if err := q.Enqueue(context.Background(), i, i); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), 3, 3) }()
	// let the third Enqueue block on the full channel
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan []Item, 1)
	go func() { stopped <- q.Stop() }()

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("blocked Enqueue err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release a blocked Enqueue")
	}

	var dropped []Item
	select {
	case dropped = <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop without Start hung")
	}
	if len(dropped) != 2 || dropped[0].TaskID != 1 || dropped[1].TaskID != 2 {
		t.Fatalf("dropped = %+v, want tasks 1 and 2", dropped)
	}
	if q.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", q.Pending())
	}
}
