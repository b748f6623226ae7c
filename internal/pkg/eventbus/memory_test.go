package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type testEvent struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Seq  int    `json:"seq"`
}

func (e testEvent) EventName() string    { return e.Name }
func (e testEvent) PartitionKey() string { return e.Key }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemoryBus_PerKeyOrdering(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(4, RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond})

	const perKey = 50
	var mu sync.Mutex
	received := make(map[string][]int)

	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		var ev testEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		mu.Lock()
		received[ev.Key] = append(received[ev.Key], ev.Seq)
		mu.Unlock()
		return nil
	})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	keys := []string{"saga:a", "saga:b", "saga:c"}
	for seq := 0; seq < perKey; seq++ {
		for _, key := range keys {
			ev := testEvent{Name: "test.event", Key: key, Seq: seq}
			if err := bus.Publish(context.Background(), "t", ev); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, key := range keys {
			if len(received[key]) != perKey {
				return false
			}
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	for _, key := range keys {
		for i, seq := range received[key] {
			if seq != i {
				t.Fatalf("key %s: position %d got seq %d, ordering broken", key, i, seq)
			}
		}
	}
}

func TestMemoryBus_RetriesBeforeSuccess(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(1, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	var attempts atomic.Int32
	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	if err := bus.Publish(context.Background(), "t", testEvent{Name: "e", Key: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 3 })

	if len(bus.DeadLetters()) != 0 {
		t.Fatal("message that eventually succeeded must not be dead-lettered")
	}
}

func TestMemoryBus_DeadLetterAfterExhaustion(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(1, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	var attempts atomic.Int32
	var notified atomic.Int32
	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		attempts.Add(1)
		return fmt.Errorf("permanent failure")
	})
	bus.OnDeadLetter(func(dl DeadLetter) { notified.Add(1) })

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	if err := bus.Publish(context.Background(), "t", testEvent{Name: "e", Key: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(bus.DeadLetters()) == 1 })

	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	dl := bus.DeadLetters()[0]
	if dl.Topic != "t" || dl.Cause == "" {
		t.Fatalf("dead letter missing context: %+v", dl)
	}
	if notified.Load() != 1 {
		t.Fatalf("dead letter callback fired %d times", notified.Load())
	}
}

func TestMemoryBus_PublishBeforeStartQueues(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(4, RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond})

	var delivered atomic.Int32
	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		delivered.Add(1)
		return nil
	})

	// Start 之前发布不能 panic，消息排队等 worker 起来
	for i := 0; i < 3; i++ {
		ev := testEvent{Name: "e", Key: fmt.Sprintf("k%d", i)}
		if err := bus.Publish(context.Background(), "t", ev); err != nil {
			t.Fatalf("publish before start: %v", err)
		}
	}

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 3 })
}

func TestStaged_FlushPublishesAfterCommit(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(1, RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond})

	var delivered atomic.Int32
	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		delivered.Add(1)
		return nil
	})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	staged := NewStaged(bus)
	if err := staged.Publish(context.Background(), "t", testEvent{Name: "e", Key: "k"}); err != nil {
		t.Fatalf("stage: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Fatal("staged event must not reach subscribers before Flush")
	}

	staged.Flush(context.Background())
	waitFor(t, time.Second, func() bool { return delivered.Load() == 1 })
}

func TestStaged_DiscardDropsEverything(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus(1, RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond})

	var delivered atomic.Int32
	bus.Subscribe("t", func(ctx context.Context, env Envelope) error {
		delivered.Add(1)
		return nil
	})
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bus.Stop(context.Background())

	staged := NewStaged(bus)
	staged.Publish(context.Background(), "t", testEvent{Name: "e", Key: "k"})
	staged.Discard()
	staged.Flush(context.Background())

	time.Sleep(20 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Fatal("discarded events must never be published")
	}
}

func TestEnvelope_CarriesSagaID(t *testing.T) {
	t.Parallel()

	env, err := Wrap(sagaTestEvent{ID: "saga-1"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if env.SagaID != "saga-1" {
		t.Fatalf("expected saga id lifted onto the envelope, got %q", env.SagaID)
	}
}

type sagaTestEvent struct {
	ID string `json:"id"`
}

func (e sagaTestEvent) EventName() string    { return "saga.test" }
func (e sagaTestEvent) PartitionKey() string { return "saga:" + e.ID }
func (e sagaTestEvent) SagaRef() string      { return e.ID }
