package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/logger"
)

type recordingRunner struct {
	mu       sync.Mutex
	seen     map[string][]string
	attempts map[string]int
	failures map[string]int
	err      error
	active   map[string]int
	overlap  bool
	block    chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		seen:     map[string][]string{},
		attempts: map[string]int{},
		failures: map[string]int{},
		active:   map[string]int{},
	}
}

func (r *recordingRunner) Run(ctx context.Context, task Task, attempt int) error {
	r.mu.Lock()
	r.active[task.CustomerID]++
	if r.active[task.CustomerID] > 1 {
		r.overlap = true
	}
	r.attempts[task.EventID] = attempt
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[task.CustomerID]--
	if r.failures[task.EventID] > 0 {
		r.failures[task.EventID]--
		return r.err
	}
	r.seen[task.CustomerID] = append(r.seen[task.CustomerID], task.EventID)
	return nil
}

func newTestPool(t *testing.T, runner Runner, workers, queue int) *Pool {
	t.Helper()
	pool, err := NewPool(PoolParams{
		Runner:      runner,
		Workers:     workers,
		QueueSize:   queue,
		TaskTimeout: time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Logger:      logger.Nop(),
	})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func TestPoolSerializesTasksPerCustomer(t *testing.T) {
	runner := newRecordingRunner()
	pool := newTestPool(t, runner, 4, 400)
	pool.Start(context.Background())

	events := []string{"evt_1", "evt_2", "evt_3", "evt_4", "evt_5"}
	for _, id := range events {
		for _, cust := range []string{"cus_a", "cus_b", "cus_c"} {
			if err := pool.Dispatch(context.Background(), Task{EventID: id, CustomerID: cust}); err != nil {
				t.Fatalf("dispatch: %v", err)
			}
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if runner.overlap {
		t.Fatal("tasks for one customer ran concurrently")
	}
	for _, cust := range []string{"cus_a", "cus_b", "cus_c"} {
		got := runner.seen[cust]
		if len(got) != len(events) {
			t.Fatalf("%s: expected %d tasks, got %v", cust, len(events), got)
		}
		for i := range events {
			if got[i] != events[i] {
				t.Fatalf("%s: expected dispatch order %v, got %v", cust, events, got)
			}
		}
	}
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	runner := newRecordingRunner()
	runner.err = subscriptions.ErrProviderUnavailable
	runner.failures["evt_1"] = 2
	pool := newTestPool(t, runner, 1, 4)
	pool.Start(context.Background())

	if err := pool.Dispatch(context.Background(), Task{EventID: "evt_1", CustomerID: "cus_a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if runner.attempts["evt_1"] != 3 {
		t.Fatalf("expected success on attempt 3, got %d", runner.attempts["evt_1"])
	}
	if len(runner.seen["cus_a"]) != 1 {
		t.Fatalf("expected task to complete, got %v", runner.seen["cus_a"])
	}
}

func TestPoolDoesNotRetryPermanentFailures(t *testing.T) {
	runner := newRecordingRunner()
	runner.err = errors.New("permanent")
	runner.failures["evt_1"] = 5
	pool := newTestPool(t, runner, 1, 4)
	pool.Start(context.Background())

	_ = pool.Dispatch(context.Background(), Task{EventID: "evt_1", CustomerID: "cus_a"})
	_ = pool.Shutdown(context.Background())

	if runner.attempts["evt_1"] != 1 {
		t.Fatalf("expected a single attempt, got %d", runner.attempts["evt_1"])
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	pool := newTestPool(t, runner, 1, 1)
	pool.Start(context.Background())

	// first task occupies the worker, second fills the queue
	if err := pool.Dispatch(context.Background(), Task{EventID: "evt_1", CustomerID: "cus_a"}); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		runner.mu.Lock()
		started := runner.attempts["evt_1"] == 1
		runner.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := pool.Dispatch(context.Background(), Task{EventID: "evt_2", CustomerID: "cus_a"}); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}
	if err := pool.Dispatch(context.Background(), Task{EventID: "evt_3", CustomerID: "cus_a"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(runner.block)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := pool.Dispatch(context.Background(), Task{EventID: "evt_4", CustomerID: "cus_a"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestPoolShutdownTimesOut(t *testing.T) {
	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	pool := newTestPool(t, runner, 1, 2)
	pool.Start(context.Background())
	_ = pool.Dispatch(context.Background(), Task{EventID: "evt_1", CustomerID: "cus_a"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPoolPartitionIsStable(t *testing.T) {
	pool := newTestPool(t, newRecordingRunner(), 8, 64)
	first := pool.partition("cus_123")
	for i := 0; i < 10; i++ {
		if pool.partition("cus_123") != first {
			t.Fatal("partition must be deterministic")
		}
	}
}
