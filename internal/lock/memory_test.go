package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLock_MutualExclusion(t *testing.T) {
	t.Parallel()

	svc := NewMemoryLockService(time.Second)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, svc, "stock:42", func(ctx context.Context) error {
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("critical section held by %d goroutines at once", maxSeen)
	}
}

func TestMemoryLock_DifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	svc := NewMemoryLockService(100 * time.Millisecond)
	ctx := context.Background()

	l1, err := svc.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer l1.Release(ctx)

	l2, err := svc.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b must not wait for a: %v", err)
	}
	l2.Release(ctx)
}

func TestMemoryLock_WaitTimeout(t *testing.T) {
	t.Parallel()

	svc := NewMemoryLockService(50 * time.Millisecond)
	ctx := context.Background()

	held, err := svc.Acquire(ctx, "busy")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(ctx)

	start := time.Now()
	_, err = svc.Acquire(ctx, "busy")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("acquire returned before the wait window elapsed")
	}
}

func TestMemoryLock_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	svc := NewMemoryLockService(time.Second)
	ctx := context.Background()

	l, err := svc.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("second release must be a no-op, got %v", err)
	}

	// 锁必须真的被放开
	l2, err := svc.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l2.Release(ctx)
}
