package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"flashmart/internal/errs"
	"flashmart/internal/lock"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/service/coupon/application"
	"flashmart/internal/service/coupon/domain"
	"flashmart/internal/service/coupon/infrastructure/rule"
	"flashmart/internal/service/coupon/interfaces"
)

const issueTopic = "coupon.issue.test"

// fakeGate 复刻线上闸门的判定顺序：先去重、再倒扣、扣成负数回补。
type fakeGate struct {
	mu     sync.Mutex
	stock  map[int64]int
	seeded map[int64]bool
	issued map[int64]map[int64]bool
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		stock:  make(map[int64]int),
		seeded: make(map[int64]bool),
		issued: make(map[int64]map[int64]bool),
	}
}

func (g *fakeGate) TryIssue(ctx context.Context, couponID, userID int64) (domain.GateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.issued[couponID][userID] {
		return domain.GateDuplicate, nil
	}
	g.stock[couponID]--
	if g.stock[couponID] < 0 {
		g.stock[couponID]++
		return domain.GateExhausted, nil
	}
	if g.issued[couponID] == nil {
		g.issued[couponID] = make(map[int64]bool)
	}
	g.issued[couponID][userID] = true
	return domain.GateIssued, nil
}

func (g *fakeGate) Rollback(ctx context.Context, couponID, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.issued[couponID][userID] {
		delete(g.issued[couponID], userID)
		g.stock[couponID]++
	}
	return nil
}

func (g *fakeGate) IsIssued(ctx context.Context, couponID, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued[couponID][userID], nil
}

func (g *fakeGate) SeedStock(ctx context.Context, couponID int64, remaining int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seeded[couponID] {
		g.stock[couponID] = remaining
		g.seeded[couponID] = true
	}
	return nil
}

type fakeCouponRepo struct {
	mu      sync.Mutex
	coupons map[int64]domain.Coupon
}

func newFakeCouponRepo(coupons ...domain.Coupon) *fakeCouponRepo {
	r := &fakeCouponRepo{coupons: make(map[int64]domain.Coupon)}
	for _, c := range coupons {
		r.coupons[c.ID] = c
	}
	return r
}

func (r *fakeCouponRepo) FindByID(ctx context.Context, couponID int64) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[couponID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeCouponNotFound, "coupon %d not found", couponID)
	}
	copied := c
	return &copied, nil
}

func (r *fakeCouponRepo) Save(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[coupon.ID] = *coupon
	return nil
}

func (r *fakeCouponRepo) FindAll(ctx context.Context) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Coupon, 0, len(r.coupons))
	for _, c := range r.coupons {
		copied := c
		out = append(out, &copied)
	}
	return out, nil
}

type grantKey struct{ userID, couponID int64 }

type fakeGrantRepo struct {
	mu     sync.Mutex
	grants map[grantKey]domain.UserCouponGrant
	nextID int64
}

func newFakeGrantRepo() *fakeGrantRepo {
	return &fakeGrantRepo{grants: make(map[grantKey]domain.UserCouponGrant)}
}

func (r *fakeGrantRepo) FindByUserAndCoupon(ctx context.Context, userID, couponID int64) (*domain.UserCouponGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[grantKey{userID, couponID}]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeCouponNotFound,
			"user %d has no coupon %d", userID, couponID)
	}
	copied := g
	return &copied, nil
}

func (r *fakeGrantRepo) Save(ctx context.Context, grant *domain.UserCouponGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := grantKey{grant.UserID, grant.CouponID}
	if grant.ID == 0 {
		if _, exists := r.grants[key]; exists {
			return errs.Newf(errs.KindConflict, errs.CodeCouponAlreadyIssued,
				"user %d already holds coupon %d", grant.UserID, grant.CouponID)
		}
		r.nextID++
		grant.ID = r.nextID
	}
	r.grants[key] = *grant
	return nil
}

func (r *fakeGrantRepo) FindAvailableByUser(ctx context.Context, userID int64) ([]*domain.UserCouponGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.UserCouponGrant
	for _, g := range r.grants {
		if g.UserID == userID && g.Status == domain.GrantAvailable {
			copied := g
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeGrantRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}

type fakeRequestStore struct {
	mu       sync.Mutex
	requests map[string]domain.IssueRequest
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]domain.IssueRequest)}
}

func (s *fakeRequestStore) Save(ctx context.Context, req *domain.IssueRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = *req
	return nil
}

func (s *fakeRequestStore) Find(ctx context.Context, requestID string) (*domain.IssueRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeRequestNotFound, "request %s not found", requestID)
	}
	copied := req
	return &copied, nil
}

type fixture struct {
	svc      *application.CouponService
	bus      *eventbus.MemoryBus
	gate     *fakeGate
	coupons  *fakeCouponRepo
	grants   *fakeGrantRepo
	requests *fakeRequestStore
}

func newFixture(t *testing.T, coupons ...domain.Coupon) *fixture {
	t.Helper()

	gate := newFakeGate()
	couponRepo := newFakeCouponRepo(coupons...)
	grantRepo := newFakeGrantRepo()
	requestStore := newFakeRequestStore()
	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}

	bus := eventbus.NewMemoryBus(4, eventbus.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	locks := lock.NewMemoryLockService(5 * time.Second)
	tracer := noop.NewTracerProvider().Tracer("test")

	svc := application.NewCouponService(
		couponRepo, grantRepo, gate, requestStore, ruleEngine, bus, locks, issueTopic, tracer)
	interfaces.NewIssueConsumer(svc).Register(bus, issueTopic)

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() { bus.Stop(context.Background()) })

	return &fixture{svc: svc, bus: bus, gate: gate, coupons: couponRepo, grants: grantRepo, requests: requestStore}
}

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

func limitedCoupon(id int64, total int) domain.Coupon {
	return domain.Coupon{
		ID:            id,
		Name:          "flash drop",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: decimal.NewFromInt(5_000),
		TotalQuantity: total,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func TestCouponIssuance_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, limitedCoupon(1, 3))
	ctx := context.Background()

	ack, err := f.svc.RequestIssue(ctx, 1, 100)
	if err != nil {
		t.Fatalf("request issue: %v", err)
	}
	if ack.Status != domain.RequestPending {
		t.Fatalf("expected PENDING ack, got %s", ack.Status)
	}

	waitFor(t, 5*time.Second, func() bool {
		req, err := f.svc.GetRequestStatus(ctx, ack.RequestID)
		return err == nil && req.Status == domain.RequestCompleted
	})

	grant, err := f.grants.FindByUserAndCoupon(ctx, 100, 1)
	if err != nil {
		t.Fatalf("grant must be persisted: %v", err)
	}
	if grant.Status != domain.GrantAvailable {
		t.Fatalf("expected AVAILABLE grant, got %s", grant.Status)
	}

	coupon, _ := f.coupons.FindByID(ctx, 1)
	if coupon.IssuedQuantity != 1 {
		t.Fatalf("durable issued count must be 1, got %d", coupon.IssuedQuantity)
	}
}

func TestCouponIssuance_PoolNeverOverIssued(t *testing.T) {
	t.Parallel()

	const pool = 10
	const requesters = 20

	f := newFixture(t, limitedCoupon(1, pool))
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		exhausted int
	)
	for u := int64(1); u <= requesters; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.svc.RequestIssue(ctx, 1, userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errs.CodeOf(err) == errs.CodeCouponExhausted:
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	if accepted != pool || exhausted != requesters-pool {
		t.Fatalf("expected %d accepted / %d exhausted, got %d/%d", pool, requesters-pool, accepted, exhausted)
	}

	waitFor(t, 5*time.Second, func() bool { return f.grants.count() == pool })

	coupon, _ := f.coupons.FindByID(ctx, 1)
	if coupon.IssuedQuantity != pool {
		t.Fatalf("durable issued count must be exactly %d, got %d", pool, coupon.IssuedQuantity)
	}
}

func TestCouponIssuance_DuplicateUserRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, limitedCoupon(1, 10))
	ctx := context.Background()

	// 同一用户并发领两次：恰好一次成功，另一次重复被拒
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		duplicate int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestIssue(ctx, 1, 7)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errs.CodeOf(err) == errs.CodeCouponAlreadyIssued:
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || duplicate != 1 {
		t.Fatalf("expected 1 success and 1 duplicate, got %d/%d", succeeded, duplicate)
	}
	waitFor(t, 5*time.Second, func() bool { return f.grants.count() == 1 })
}

func TestCouponIssuance_ExpiredPoolRejected(t *testing.T) {
	t.Parallel()

	expired := limitedCoupon(1, 10)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	f := newFixture(t, expired)

	_, err := f.svc.RequestIssue(context.Background(), 1, 1)
	if errs.CodeOf(err) != errs.CodeCouponExpired {
		t.Fatalf("expected COUPON_EXPIRED, got %v", err)
	}
}

// failingBus 模拟发布侧的基础设施故障。
type failingBus struct{ eventbus.Bus }

func (failingBus) Publish(ctx context.Context, topic string, ev eventbus.Event) error {
	return errs.New(errs.KindInfrastructure, errs.CodeInternalError, "broker unreachable")
}

func TestRequestIssue_PublishFailureReturnsSlot(t *testing.T) {
	t.Parallel()

	gate := newFakeGate()
	couponRepo := newFakeCouponRepo(limitedCoupon(1, 1))
	grantRepo := newFakeGrantRepo()
	requestStore := newFakeRequestStore()
	ruleEngine, _ := rule.NewCELRuleEngine()
	locks := lock.NewMemoryLockService(time.Second)
	tracer := noop.NewTracerProvider().Tracer("test")

	broken := application.NewCouponService(
		couponRepo, grantRepo, gate, requestStore, ruleEngine, failingBus{}, locks, issueTopic, tracer)

	ctx := context.Background()
	if _, err := broken.RequestIssue(ctx, 1, 7); err == nil {
		t.Fatal("expected publish failure to surface")
	}

	// 名额必须被吐回：换一条好的总线后同一张券仍可发出
	bus := eventbus.NewMemoryBus(1, eventbus.DefaultRetryPolicy())
	healthy := application.NewCouponService(
		couponRepo, grantRepo, gate, requestStore, ruleEngine, bus, locks, issueTopic, tracer)
	interfaces.NewIssueConsumer(healthy).Register(bus, issueTopic)
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer bus.Stop(ctx)

	if _, err := healthy.RequestIssue(ctx, 1, 8); err != nil {
		t.Fatalf("slot was not returned to the pool: %v", err)
	}
}

func TestValidateAndCalculateDiscount_WithRule(t *testing.T) {
	t.Parallel()

	ruled := limitedCoupon(1, 10)
	ruled.ApplicabilityRule = "orderAmount >= 50000.0"
	f := newFixture(t, ruled)
	ctx := context.Background()

	// 先把券发给用户
	ack, err := f.svc.RequestIssue(ctx, 1, 3)
	if err != nil {
		t.Fatalf("request issue: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		req, err := f.svc.GetRequestStatus(ctx, ack.RequestID)
		return err == nil && req.Status == domain.RequestCompleted
	})

	res, err := f.svc.ValidateAndCalculateDiscount(ctx, 3, 1, decimal.NewFromInt(60_000), 2)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Usable || !res.DiscountAmount.Equal(decimal.NewFromInt(5_000)) {
		t.Fatalf("expected usable with 5000 off, got %+v", res)
	}

	res, err = f.svc.ValidateAndCalculateDiscount(ctx, 3, 1, decimal.NewFromInt(40_000), 1)
	if err != nil {
		t.Fatalf("validate below rule threshold: %v", err)
	}
	if res.Usable || res.Reason != string(errs.CodeCouponNotApplicable) {
		t.Fatalf("expected rule rejection, got %+v", res)
	}
}

func TestUseCoupon_AndRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, limitedCoupon(1, 10))
	ctx := context.Background()

	ack, err := f.svc.RequestIssue(ctx, 1, 5)
	if err != nil {
		t.Fatalf("request issue: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		req, err := f.svc.GetRequestStatus(ctx, ack.RequestID)
		return err == nil && req.Status == domain.RequestCompleted
	})

	if err := f.svc.UseCoupon(ctx, 5, 1, "ORD-20260901-cafe0001"); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := f.svc.UseCoupon(ctx, 5, 1, "ORD-20260901-cafe0002"); errs.CodeOf(err) != errs.CodeCouponAlreadyUsed {
		t.Fatalf("expected COUPON_ALREADY_USED, got %v", err)
	}

	if err := f.svc.RollbackUse(ctx, 5, 1); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	grant, _ := f.grants.FindByUserAndCoupon(ctx, 5, 1)
	if grant.Status != domain.GrantAvailable {
		t.Fatalf("expected grant available again, got %s", grant.Status)
	}
}
