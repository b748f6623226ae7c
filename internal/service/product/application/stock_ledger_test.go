package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"flashmart/internal/errs"
	"flashmart/internal/lock"
	"flashmart/internal/service/product/domain"
)

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[int64]domain.Product
}

func newFakeProductRepo(products ...domain.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[int64]domain.Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeProductRepo) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeProductNotFound, "product %d not found", id)
	}
	copied := p
	return &copied, nil
}

func (r *fakeProductRepo) Save(ctx context.Context, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = *product
	return nil
}

func (r *fakeProductRepo) FindAll(ctx context.Context) ([]*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Product, 0, len(r.products))
	for _, p := range r.products {
		copied := p
		out = append(out, &copied)
	}
	return out, nil
}

func newTestStockLedger(repo *fakeProductRepo) *StockLedger {
	locks := lock.NewMemoryLockService(5 * time.Second)
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewStockLedger(repo, locks, tracer)
}

func TestStockLedger_ConcurrentReservations(t *testing.T) {
	t.Parallel()

	repo := newFakeProductRepo(domain.Product{
		ID: 1, Name: "limited drop", Price: decimal.NewFromInt(10_000), StockQuantity: 20,
	})
	ledger := newTestStockLedger(repo)
	ctx := context.Background()

	// 库存 20，8 个并发请求各扣 1，剩 12
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.ReserveAndCommit(ctx, 1, 1); err != nil {
				t.Errorf("reserve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	product, err := ledger.GetProduct(ctx, 1)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQuantity != 12 {
		t.Fatalf("expected 12 remaining, got %d", product.StockQuantity)
	}
}

func TestStockLedger_NeverOversells(t *testing.T) {
	t.Parallel()

	repo := newFakeProductRepo(domain.Product{
		ID: 2, Name: "tiny batch", Price: decimal.NewFromInt(5_000), StockQuantity: 5,
	})
	ledger := newTestStockLedger(repo)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.ReserveAndCommit(ctx, 2, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errs.CodeOf(err) == errs.CodeInsufficientStock:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || rejected != 7 {
		t.Fatalf("expected 5 successes and 7 rejections, got %d/%d", succeeded, rejected)
	}
	product, _ := ledger.GetProduct(ctx, 2)
	if product.StockQuantity != 0 {
		t.Fatalf("expected stock exactly 0, got %d", product.StockQuantity)
	}
}

func TestStockLedger_RestoreCompensation(t *testing.T) {
	t.Parallel()

	repo := newFakeProductRepo(domain.Product{
		ID: 3, Name: "gadget", Price: decimal.NewFromInt(1_000), StockQuantity: 10,
	})
	ledger := newTestStockLedger(repo)
	ctx := context.Background()

	if err := ledger.ReserveAndCommit(ctx, 3, 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Restore(ctx, 3, 4); err != nil {
		t.Fatalf("restore: %v", err)
	}

	product, _ := ledger.GetProduct(ctx, 3)
	if product.StockQuantity != 10 {
		t.Fatalf("expected stock back to 10, got %d", product.StockQuantity)
	}
}

func TestStockLedger_AdvisoryCheckDoesNotReserve(t *testing.T) {
	t.Parallel()

	repo := newFakeProductRepo(domain.Product{
		ID: 4, Name: "thing", Price: decimal.NewFromInt(1_000), StockQuantity: 1,
	})
	ledger := newTestStockLedger(repo)
	ctx := context.Background()

	enough, err := ledger.HasEnoughStock(ctx, 4, 1)
	if err != nil || !enough {
		t.Fatalf("expected advisory pass, got %v %v", enough, err)
	}

	// 预检不持有任何预留：之后的真实扣减仍然遵循先到先得
	if err := ledger.ReserveAndCommit(ctx, 4, 1); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := ledger.ReserveAndCommit(ctx, 4, 1); errs.CodeOf(err) != errs.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK after pool drained, got %v", err)
	}
}
