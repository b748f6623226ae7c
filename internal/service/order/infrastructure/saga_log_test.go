package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"flashmart/internal/errs"
	"flashmart/internal/service/order/domain"
)

func record(sagaID string, version int, state domain.SagaState) *domain.SagaRecord {
	return &domain.SagaRecord{
		SagaID:    sagaID,
		Version:   version,
		EventType: "order.saga.initiated",
		State:     state,
		CreatedAt: time.Now(),
	}
}

func TestMemorySagaLog_AppendAndLoad(t *testing.T) {
	t.Parallel()

	log := NewMemorySagaLog()
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		if err := log.Append(ctx, record("s1", v, domain.SagaStarted)); err != nil {
			t.Fatalf("append v%d: %v", v, err)
		}
	}

	records, err := log.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Version != i+1 {
			t.Fatalf("records must be sorted by version, got %d at index %d", r.Version, i)
		}
		if r.ID == 0 {
			t.Fatal("append must assign an id")
		}
	}

	latest, err := log.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("latest must be version 3, got %d", latest.Version)
	}
}

func TestMemorySagaLog_VersionConflict(t *testing.T) {
	t.Parallel()

	log := NewMemorySagaLog()
	ctx := context.Background()

	if err := log.Append(ctx, record("s1", 1, domain.SagaStarted)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := log.Append(ctx, record("s1", 1, domain.SagaFailed))
	if !errs.IsConflict(err) {
		t.Fatalf("same version must conflict, got %v", err)
	}
}

func TestMemorySagaLog_ConcurrentAppendSameVersion(t *testing.T) {
	t.Parallel()

	log := NewMemorySagaLog()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := log.Append(ctx, record("s1", 1, domain.SagaStarted)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("exactly one writer must win the version, got %d", succeeded)
	}
}

func TestMemorySagaLog_UnknownSaga(t *testing.T) {
	t.Parallel()

	log := NewMemorySagaLog()
	if _, err := log.Latest(context.Background(), "missing"); errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	records, err := log.Load(context.Background(), "missing")
	if err != nil || len(records) != 0 {
		t.Fatalf("load of unknown saga must be empty, got %v / %v", records, err)
	}
}

func TestMemorySagaLog_ReturnsCopies(t *testing.T) {
	t.Parallel()

	log := NewMemorySagaLog()
	ctx := context.Background()
	if err := log.Append(ctx, record("s1", 1, domain.SagaStarted)); err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, _ := log.Latest(ctx, "s1")
	latest.State = domain.SagaFailed

	again, _ := log.Latest(ctx, "s1")
	if again.State != domain.SagaStarted {
		t.Fatal("mutating a returned record must not affect the log")
	}
}
