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
	"flashmart/internal/service/balance/domain"
)

// fakeBalanceRepo 模拟真实仓储的读写分离语义：
// FindByUserID 返回副本，只有 Save 才写回，以暴露丢失更新类的问题。
type fakeBalanceRepo struct {
	mu        sync.Mutex
	balances  map[int64]domain.UserBalance
	histories []*domain.BalanceHistory
	nextID    int64
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{balances: make(map[int64]domain.UserBalance)}
}

func (r *fakeBalanceRepo) FindByUserID(ctx context.Context, userID int64) (*domain.UserBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[userID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeUserNotFound, "user %d not found", userID)
	}
	copied := b
	return &copied, nil
}

func (r *fakeBalanceRepo) Save(ctx context.Context, balance *domain.UserBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if balance.ID == 0 {
		r.nextID++
		balance.ID = r.nextID
	}
	r.balances[balance.UserID] = *balance
	return nil
}

func (r *fakeBalanceRepo) Append(ctx context.Context, history *domain.BalanceHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, history)
	return nil
}

func (r *fakeBalanceRepo) FindRecentByUserID(ctx context.Context, userID int64, limit int) ([]*domain.BalanceHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BalanceHistory
	for i := len(r.histories) - 1; i >= 0 && len(out) < limit; i-- {
		if r.histories[i].UserID == userID {
			out = append(out, r.histories[i])
		}
	}
	return out, nil
}

func newTestLedger(repo *fakeBalanceRepo) *BalanceLedger {
	locks := lock.NewMemoryLockService(5 * time.Second)
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewBalanceLedger(repo, repo, locks, tracer)
}

func TestBalanceLedger_ConcurrentCharges(t *testing.T) {
	t.Parallel()

	repo := newFakeBalanceRepo()
	ledger := newTestLedger(repo)
	ctx := context.Background()

	// 同一账户并发十次充值 10,000，全部成功且分毫不差
	const chargers = 10
	amount := decimal.NewFromInt(10_000)

	var wg sync.WaitGroup
	for i := 0; i < chargers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Charge(ctx, 7, amount); err != nil {
				t.Errorf("charge failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := ledger.GetBalance(ctx, 7)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	want := decimal.NewFromInt(100_000)
	if !got.Equal(want) {
		t.Fatalf("expected balance %s after concurrent charges, got %s", want, got)
	}

	histories, err := ledger.RecentHistories(ctx, 7, 20)
	if err != nil {
		t.Fatalf("histories: %v", err)
	}
	if len(histories) != chargers {
		t.Fatalf("expected %d history rows, got %d", chargers, len(histories))
	}
}

func TestBalanceLedger_DeductAndRefund(t *testing.T) {
	t.Parallel()

	repo := newFakeBalanceRepo()
	ledger := newTestLedger(repo)
	ctx := context.Background()

	if _, err := ledger.Charge(ctx, 1, decimal.NewFromInt(50_000)); err != nil {
		t.Fatalf("charge: %v", err)
	}

	remaining, err := ledger.Deduct(ctx, 1, decimal.NewFromInt(30_000), "ORD-1")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if !remaining.Equal(decimal.NewFromInt(20_000)) {
		t.Fatalf("expected 20000 remaining, got %s", remaining)
	}

	if err := ledger.Refund(ctx, 1, decimal.NewFromInt(30_000), "ORD-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	got, _ := ledger.GetBalance(ctx, 1)
	if !got.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("expected balance restored to 50000, got %s", got)
	}
}

func TestBalanceLedger_DeductInsufficient(t *testing.T) {
	t.Parallel()

	repo := newFakeBalanceRepo()
	ledger := newTestLedger(repo)
	ctx := context.Background()

	if _, err := ledger.Charge(ctx, 1, decimal.NewFromInt(1_000)); err != nil {
		t.Fatalf("charge: %v", err)
	}

	_, err := ledger.Deduct(ctx, 1, decimal.NewFromInt(5_000), "ORD-1")
	if errs.CodeOf(err) != errs.CodeInsufficientBalance {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}
}

func TestBalanceLedger_GetBalanceUnknownUser(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(newFakeBalanceRepo())
	got, err := ledger.GetBalance(context.Background(), 999)
	if err != nil {
		t.Fatalf("unknown user must read as zero balance, got %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}
