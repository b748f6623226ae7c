// internal/service/coupon/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/errs"
	"flashmart/internal/lock"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/coupon/domain"
)

func couponLockKey(couponID int64) string {
	return fmt.Sprintf("flashmart:coupon:%d", couponID)
}

// CouponService 是发放闸门的应用服务。
// 快路径（去重 + 计数）走闸门一次原子裁决，慢路径（落库）由
// worker 消费 CouponIssueRequested 异步完成，调用方凭 requestId 轮询结果。
type CouponService struct {
	coupons  domain.CouponRepository
	grants   domain.UserCouponRepository
	gate     domain.IssuanceGate
	requests domain.IssueRequestStore
	rules    domain.RuleEngine
	bus      eventbus.Bus
	locks    lock.Service
	topic    string
	tracer   trace.Tracer
}

func NewCouponService(
	coupons domain.CouponRepository,
	grants domain.UserCouponRepository,
	gate domain.IssuanceGate,
	requests domain.IssueRequestStore,
	rules domain.RuleEngine,
	bus eventbus.Bus,
	locks lock.Service,
	topic string,
	tracer trace.Tracer,
) *CouponService {
	return &CouponService{
		coupons:  coupons,
		grants:   grants,
		gate:     gate,
		requests: requests,
		rules:    rules,
		bus:      bus,
		locks:    locks,
		topic:    topic,
		tracer:   tracer,
	}
}

// IssueAck 是 RequestIssue 的受理回执。
type IssueAck struct {
	RequestID string
	Status    domain.RequestStatus
}

// RequestIssue 受理一次领券请求。
// 返回成功只代表抢到了名额（PENDING），持久化结果需轮询 GetRequestStatus。
// 售罄与重复领取立即返回业务错误，不产生请求记录。
func (s *CouponService) RequestIssue(ctx context.Context, couponID, userID int64) (*IssueAck, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.RequestIssue")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.id", couponID),
		attribute.Int64("user.id", userID),
	)

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if coupon.IsExpired() {
		metrics.CouponIssueResult.WithLabelValues("expired").Inc()
		return nil, errs.Newf(errs.KindConflict, errs.CodeCouponExpired, "coupon %d expired", couponID)
	}
	if err := s.gate.SeedStock(ctx, couponID, coupon.RemainingQuantity()); err != nil {
		return nil, err
	}

	result, err := s.gate.TryIssue(ctx, couponID, userID)
	if err != nil {
		return nil, err
	}
	switch result {
	case domain.GateExhausted:
		metrics.CouponIssueResult.WithLabelValues("exhausted").Inc()
		return nil, errs.Newf(errs.KindConflict, errs.CodeCouponExhausted, "coupon %d exhausted", couponID)
	case domain.GateDuplicate:
		metrics.CouponIssueResult.WithLabelValues("duplicate").Inc()
		return nil, errs.Newf(errs.KindConflict, errs.CodeCouponAlreadyIssued,
			"user %d already requested coupon %d", userID, couponID)
	}

	requestID := uuid.NewString()
	req := &domain.IssueRequest{
		RequestID:   requestID,
		CouponID:    couponID,
		UserID:      userID,
		Status:      domain.RequestPending,
		RequestedAt: time.Now(),
	}
	if err := s.requests.Save(ctx, req); err != nil {
		s.undoGateDecision(ctx, couponID, userID)
		return nil, err
	}

	ev := domain.CouponIssueRequested{
		RequestID:   requestID,
		CouponID:    couponID,
		UserID:      userID,
		RequestedAt: req.RequestedAt,
	}
	if err := s.bus.Publish(ctx, s.topic, ev); err != nil {
		// 名额已经扣掉了，发布失败必须把裁决吐回去，否则名额丢失
		s.undoGateDecision(ctx, couponID, userID)
		s.markFailed(ctx, req, "publish failed")
		span.SetStatus(codes.Error, err.Error())
		return nil, errs.Wrap(err, errs.KindInfrastructure, errs.CodeInternalError, "publish coupon issue event")
	}

	metrics.CouponIssueResult.WithLabelValues("accepted").Inc()
	logger.Ctx(ctx).Info().
		Str("requestId", requestID).
		Int64("couponId", couponID).
		Int64("userId", userID).
		Msg("✅ coupon issue request accepted")
	return &IssueAck{RequestID: requestID, Status: domain.RequestPending}, nil
}

func (s *CouponService) undoGateDecision(ctx context.Context, couponID, userID int64) {
	if err := s.gate.Rollback(ctx, couponID, userID); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("couponId", couponID).
			Int64("userId", userID).
			Msg("🚨 coupon gate rollback failed, counter may leak one slot")
	}
}

func (s *CouponService) markFailed(ctx context.Context, req *domain.IssueRequest, reason string) {
	now := time.Now()
	req.Status = domain.RequestFailed
	req.Reason = reason
	req.CompletedAt = &now
	if err := s.requests.Save(ctx, req); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("requestId", req.RequestID).Msg("save failed request status")
	}
}

// GetRequestStatus 查询异步发放请求的结果。
func (s *CouponService) GetRequestStatus(ctx context.Context, requestID string) (*domain.IssueRequest, error) {
	return s.requests.Find(ctx, requestID)
}

// PersistIssue 是慢路径：把闸门裁决落成持久的发放记录。
// 由 worker 消费发放事件调用。at-least-once 投递下必须幂等：
// 同一 (user, coupon) 的重复投递按成功处理。
func (s *CouponService) PersistIssue(ctx context.Context, requestID string, couponID, userID int64) error {
	ctx, span := s.tracer.Start(ctx, "coupon.PersistIssue")
	defer span.End()

	err := lock.WithLock(ctx, s.locks, couponLockKey(couponID), func(ctx context.Context) error {
		if _, err := s.grants.FindByUserAndCoupon(ctx, userID, couponID); err == nil {
			logger.Ctx(ctx).Info().
				Int64("couponId", couponID).
				Int64("userId", userID).
				Msg("grant already persisted, redelivery ignored")
			return nil
		} else if errs.KindOf(err) != errs.KindNotFound {
			return err
		}

		coupon, err := s.coupons.FindByID(ctx, couponID)
		if err != nil {
			return err
		}
		if err := coupon.Issue(); err != nil {
			return err
		}
		if err := s.coupons.Save(ctx, coupon); err != nil {
			return err
		}
		return s.grants.Save(ctx, domain.NewGrant(userID, couponID))
	})

	req, findErr := s.requests.Find(ctx, requestID)
	if findErr != nil {
		// 请求记录过期或丢失不影响发放结果，只是查不到状态
		logger.Ctx(ctx).Warn().Err(findErr).Str("requestId", requestID).Msg("issue request record missing")
		return err
	}

	now := time.Now()
	req.CompletedAt = &now
	if err != nil {
		req.Status = domain.RequestFailed
		req.Reason = string(errs.CodeOf(err))
	} else {
		req.Status = domain.RequestCompleted
	}
	if saveErr := s.requests.Save(ctx, req); saveErr != nil {
		logger.Ctx(ctx).Error().Err(saveErr).Str("requestId", requestID).Msg("save request status failed")
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.CouponIssueResult.WithLabelValues("persist_failed").Inc()
		// 落库失败要把快路径的裁决撤回，名额还给别人
		s.undoGateDecision(ctx, couponID, userID)
		return err
	}
	metrics.CouponIssueResult.WithLabelValues("persisted").Inc()
	return nil
}

// ValidationResult 是下单前券校验的结果。
type ValidationResult struct {
	Usable         bool
	Reason         string
	DiscountAmount decimal.Decimal
}

// ValidateAndCalculateDiscount 校验用户的券在给定订单上是否可用并计算折扣。
// 校验失败返回 Usable=false 和原因，不返回 error（这是查询而非命令）。
func (s *CouponService) ValidateAndCalculateDiscount(ctx context.Context, userID, couponID int64, orderAmount decimal.Decimal, itemCount int) (*ValidationResult, error) {
	grant, err := s.grants.FindByUserAndCoupon(ctx, userID, couponID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return &ValidationResult{Usable: false, Reason: string(errs.CodeCouponNotFound)}, nil
		}
		return nil, err
	}
	if grant.Status != domain.GrantAvailable {
		return &ValidationResult{Usable: false, Reason: string(errs.CodeCouponAlreadyUsed)}, nil
	}

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}

	amountF, _ := orderAmount.Float64()
	applicable, err := s.rules.Evaluate(ctx, coupon.ApplicabilityRule, domain.OrderFact{
		UserID:      userID,
		OrderAmount: amountF,
		ItemCount:   itemCount,
	})
	if err != nil {
		return nil, err
	}
	if !applicable {
		return &ValidationResult{Usable: false, Reason: string(errs.CodeCouponNotApplicable)}, nil
	}

	discount, err := coupon.CalculateDiscount(orderAmount)
	if err != nil {
		return &ValidationResult{Usable: false, Reason: string(errs.CodeOf(err))}, nil
	}
	return &ValidationResult{Usable: true, DiscountAmount: discount}, nil
}

// UseCoupon 把用户的券核销到订单号上。
func (s *CouponService) UseCoupon(ctx context.Context, userID, couponID int64, orderNumber string) error {
	grant, err := s.grants.FindByUserAndCoupon(ctx, userID, couponID)
	if err != nil {
		return err
	}
	if err := grant.Use(orderNumber); err != nil {
		return err
	}
	return s.grants.Save(ctx, grant)
}

// RollbackUse 是核销的补偿：订单失败时把券还给用户。
func (s *CouponService) RollbackUse(ctx context.Context, userID, couponID int64) error {
	grant, err := s.grants.FindByUserAndCoupon(ctx, userID, couponID)
	if err != nil {
		return err
	}
	if err := grant.RollbackUse(); err != nil {
		return err
	}
	if err := s.grants.Save(ctx, grant); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().
		Int64("couponId", couponID).
		Int64("userId", userID).
		Msg("coupon use rolled back")
	return nil
}

// AvailableCoupons 查询用户当前可用的券。
func (s *CouponService) AvailableCoupons(ctx context.Context, userID int64) ([]*domain.UserCouponGrant, error) {
	return s.grants.FindAvailableByUser(ctx, userID)
}
