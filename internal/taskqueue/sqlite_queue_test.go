package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}
	return q
}

func TestSQLiteQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newSQLiteQueue(t)

	in := Task{
		ID:         "task-1",
		Type:       TaskTypeSignal,
		InstanceID: "inst-9",
		SignalName: "title_selection",
		Payload:    map[string]any{"title": "The Retention Playbook"},
		EnqueuedAt: time.Now(),
	}
	if err := q.Enqueue(ctx, in); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 queued task, got %d", q.Len())
	}

	out, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if out.ID != "task-1" || out.Type != TaskTypeSignal || out.InstanceID != "inst-9" || out.SignalName != "title_selection" {
		t.Fatalf("task fields lost: %+v", out)
	}
	payload, ok := out.Payload.(map[string]any)
	if !ok || payload["title"] != "The Retention Playbook" {
		t.Fatalf("payload lost: %v", out.Payload)
	}

	// The claimed task is gone.
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestSQLiteQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := newSQLiteQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, Task{ID: id, Type: TaskTypeStartWorkflow, EnqueuedAt: time.Now()}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if task.ID != want {
			t.Fatalf("expected %s, got %s", want, task.ID)
		}
	}
}

func TestSQLiteQueueNotBeforeGating(t *testing.T) {
	ctx := context.Background()
	q := newSQLiteQueue(t)

	if err := q.Enqueue(ctx, Task{
		ID:         "later",
		Type:       TaskTypeStartWorkflow,
		EnqueuedAt: time.Now(),
		NotBefore:  time.Now().Add(80 * time.Millisecond),
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Task{
		ID:         "now",
		Type:       TaskTypeStartWorkflow,
		EnqueuedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// The immediately eligible task is served first even though it was
	// enqueued second.
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "now" {
		t.Fatalf("expected the eligible task first, got %s", task.ID)
	}

	start := time.Now()
	task, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "later" {
		t.Fatalf("expected the delayed task, got %s", task.ID)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("delayed task took too long to become eligible")
	}
}

func TestSQLiteQueueConcurrentDequeueClaimsEachTaskOnce(t *testing.T) {
	const tasks = 20
	const consumers = 4

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "concurrent_queue_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Multiple connections so concurrent consumers can race on the same row.
	db.SetMaxOpenConns(consumers)
	t.Cleanup(func() { db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < tasks; i++ {
		err := q.Enqueue(ctx, Task{
			ID:         fmt.Sprintf("task-%02d", i),
			Type:       TaskTypeStartWorkflow,
			EnqueuedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		claimed = make(map[string]int, tasks)
		wg      sync.WaitGroup
	)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(runCtx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// Lock contention between connections: retry.
					continue
				}
				mu.Lock()
				claimed[task.ID]++
				done := len(claimed) == tasks
				mu.Unlock()
				if done {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != tasks {
		t.Fatalf("expected %d distinct tasks claimed, got %d", tasks, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("task %s claimed %d times", id, n)
		}
	}
}

func TestSQLiteQueueDequeueRespectsContext(t *testing.T) {
	q := newSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatalf("expected context error from empty queue")
	}
}
