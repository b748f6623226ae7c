// internal/service/order/application/orchestrator.go
package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/order/domain"
)

// 失败步骤名，记入 OrderFailed 事件和 Saga 日志。
const (
	StepStockValidation = "stock_validation"
	StepPayment         = "payment"
	StepStockReserve    = "stock_reserve"
	StepCouponUse       = "coupon_use"
	StepOrderCreation   = "order_creation"
)

// StockPort 是订单 Saga 依赖的库存操作。
type StockPort interface {
	HasEnoughStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReserveAndCommit(ctx context.Context, productID int64, quantity int) error
	Restore(ctx context.Context, productID int64, quantity int) error
}

// BalancePort 是订单 Saga 依赖的余额操作。
type BalancePort interface {
	Deduct(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) (decimal.Decimal, error)
	Refund(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) error
}

// CouponPort 是订单 Saga 依赖的优惠券操作。
// 核销按订单号关联：券在订单落库之前消耗，订单号在下单时已分配。
type CouponPort interface {
	UseCoupon(ctx context.Context, userID, couponID int64, orderNumber string) error
	RollbackUse(ctx context.Context, userID, couponID int64) error
}

// SagaMonitor 在 Saga 到达终态时收到通知，供监控面板实时展示。
type SagaMonitor interface {
	SagaEnded(sagaID string, state domain.SagaState, step, reason string)
}

// Orchestrator 驱动下单 Saga：消费自己发出的事件、执行当前步骤、
// 发出下一个事件。步骤失败时按相反顺序补偿已完成的步骤。
//
// 每次状态推进都先追加 Saga 日志再发下一个事件。at-least-once 投递下
// 重复消费同一事件会在 Append 处撞 (saga_id, version) 冲突，这就是幂等
// 的落点：冲突时从日志续推，只补发下一个事件，不重跑副作用。
type Orchestrator struct {
	stock   StockPort
	balance BalancePort
	coupons CouponPort
	orders  domain.OrderRepository
	sagaLog domain.SagaLogRepository
	bus     eventbus.Bus
	topic   string
	tracer  trace.Tracer
	monitor SagaMonitor
}

func NewOrchestrator(
	stock StockPort,
	balance BalancePort,
	coupons CouponPort,
	orders domain.OrderRepository,
	sagaLog domain.SagaLogRepository,
	bus eventbus.Bus,
	topic string,
	tracer trace.Tracer,
) *Orchestrator {
	return &Orchestrator{
		stock:   stock,
		balance: balance,
		coupons: coupons,
		orders:  orders,
		sagaLog: sagaLog,
		bus:     bus,
		topic:   topic,
		tracer:  tracer,
	}
}

// Register 把编排器挂到 Saga topic 上。
func (o *Orchestrator) Register(bus eventbus.Bus) {
	bus.Subscribe(o.topic, o.Handle)
}

// SetMonitor 挂上 Saga 终态通知的接收方。启动期调用，不做并发保护。
func (o *Orchestrator) SetMonitor(m SagaMonitor) {
	o.monitor = m
}

// Handle 是 Saga topic 的入口：按事件类型显式分发。
// 终态事件只记日志，不再推进。
func (o *Orchestrator) Handle(ctx context.Context, env eventbus.Envelope) error {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("saga.%s", env.Type))
	defer span.End()
	span.SetAttributes(attribute.String("saga.id", env.SagaID))

	var err error
	switch env.Type {
	case domain.EventOrderInitiated:
		var ev domain.OrderInitiated
		if err = env.Decode(&ev); err == nil {
			err = o.onOrderInitiated(ctx, env, ev)
		}
	case domain.EventStockValidated:
		var ev domain.StockValidated
		if err = env.Decode(&ev); err == nil {
			err = o.onStockValidated(ctx, env, ev)
		}
	case domain.EventPaymentProcessed:
		var ev domain.PaymentProcessed
		if err = env.Decode(&ev); err == nil {
			err = o.onPaymentProcessed(ctx, env, ev)
		}
	case domain.EventStockReserved:
		var ev domain.StockReserved
		if err = env.Decode(&ev); err == nil {
			err = o.onStockReserved(ctx, env, ev)
		}
	case domain.EventOrderCreated:
		var ev domain.OrderCreated
		if err = env.Decode(&ev); err == nil {
			err = o.onOrderCreated(ctx, env, ev)
		}
	case domain.EventOrderFailed:
		var ev domain.OrderFailed
		if err = env.Decode(&ev); err == nil {
			err = o.onOrderFailed(ctx, env, ev)
		}
	case domain.EventPaymentCompensated, domain.EventStockCompensated:
		// 补偿结果事件：记录即可，不推进状态机
		err = o.recordOnly(ctx, env)
	default:
		err = errs.Newf(errs.KindInfrastructure, errs.CodeInternalError,
			"unknown event type %q on saga topic", env.Type)
	}

	if err != nil {
		if errs.IsConflict(err) {
			// 重复投递：这条记录已经追加过了。不能直接丢弃，
			// 上一次处理可能在发下一个事件之前挂了，要从日志续推。
			return o.resume(ctx, env)
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// resume 处理 Append 撞版本冲突的重投事件。日志是真相：记录已落、
// 副作用已做，缺的只可能是下一个事件。按日志里的最新记录补发它，
// 不重跑任何副作用。同一 saga 的投递按分区键串行，这里读到的
// Latest 不会被并发写穿。
func (o *Orchestrator) resume(ctx context.Context, env eventbus.Envelope) error {
	latest, err := o.sagaLog.Latest(ctx, env.SagaID)
	if err != nil {
		return err
	}
	if latest.State.IsTerminal() || latest.EventType != env.Type {
		// 真正的重复：状态机早已走过这一步
		logger.Ctx(ctx).Debug().Str("sagaId", env.SagaID).Str("type", env.Type).
			Msg("duplicate saga event skipped")
		return nil
	}

	logger.Ctx(ctx).Warn().Str("sagaId", env.SagaID).Str("type", env.Type).
		Msg("⚠️ saga resumed from log, re-emitting next event")

	switch env.Type {
	case domain.EventOrderInitiated:
		var ev domain.OrderInitiated
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return o.publish(ctx, domain.StockValidated{Draft: ev.Draft})
	case domain.EventStockValidated:
		var ev domain.StockValidated
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return o.publish(ctx, domain.PaymentProcessed{
			Draft:         ev.Draft,
			PaidAmount:    ev.Draft.FinalAmount,
			TransactionID: newTransactionID(),
		})
	case domain.EventPaymentProcessed:
		var ev domain.PaymentProcessed
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return o.publish(ctx, domain.StockReserved{Draft: ev.Draft})
	case domain.EventStockReserved:
		var ev domain.StockReserved
		if err := env.Decode(&ev); err != nil {
			return err
		}
		// 订单可能已落库也可能没有，查库定方向
		order, err := o.orders.FindByOrderNumber(ctx, ev.Draft.OrderNumber)
		switch {
		case err == nil:
			return o.publish(ctx, domain.OrderCreated{Draft: ev.Draft, OrderID: order.ID})
		case errs.KindOf(err) == errs.KindNotFound:
			// 上一次在落库前挂了：把券、库存、扣款全部退回再终结
			o.compensateCoupon(ctx, ev.Draft)
			o.compensateStock(ctx, ev.Draft, ev.Draft.Items)
			o.compensatePayment(ctx, ev.Draft)
			return o.fail(ctx, ev.Draft, StepOrderCreation,
				errs.Newf(errs.KindConflict, errs.CodeConflict,
					"order %s missing after stock reserved", ev.Draft.OrderNumber))
		default:
			return err
		}
	}
	return nil
}

// onOrderInitiated 第 1 步：库存预检。
// 预检只是快速失败，真正的扣减在 StepStockReserve。
func (o *Orchestrator) onOrderInitiated(ctx context.Context, env eventbus.Envelope, ev domain.OrderInitiated) error {
	if err := o.append(ctx, env, domain.SagaStarted, "", ""); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("sagaId", ev.Draft.SagaID).Str("orderNumber", ev.Draft.OrderNumber).
		Msg("saga started")

	for _, line := range ev.Draft.Items {
		enough, err := o.stock.HasEnoughStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return o.fail(ctx, ev.Draft, StepStockValidation, err)
		}
		if !enough {
			return o.fail(ctx, ev.Draft, StepStockValidation,
				errs.Newf(errs.KindConflict, errs.CodeInsufficientStock,
					"product %d has not enough stock", line.ProductID))
		}
	}
	return o.publish(ctx, domain.StockValidated{Draft: ev.Draft})
}

// onStockValidated 第 2 步：扣款。
func (o *Orchestrator) onStockValidated(ctx context.Context, env eventbus.Envelope, ev domain.StockValidated) error {
	if err := o.append(ctx, env, domain.SagaStockValidated, "", ""); err != nil {
		return err
	}

	if _, err := o.balance.Deduct(ctx, ev.Draft.UserID, ev.Draft.FinalAmount, ev.Draft.OrderNumber); err != nil {
		return o.fail(ctx, ev.Draft, StepPayment, err)
	}
	return o.publish(ctx, domain.PaymentProcessed{
		Draft:         ev.Draft,
		PaidAmount:    ev.Draft.FinalAmount,
		TransactionID: newTransactionID(),
	})
}

// onPaymentProcessed 第 3 步：真正扣减库存。
// 任何一行失败都要恢复已扣的行，再退款，然后终结 Saga。
func (o *Orchestrator) onPaymentProcessed(ctx context.Context, env eventbus.Envelope, ev domain.PaymentProcessed) error {
	if err := o.append(ctx, env, domain.SagaPaymentProcessed, "", ""); err != nil {
		return err
	}

	reserved := make([]domain.OrderLine, 0, len(ev.Draft.Items))
	for _, line := range ev.Draft.Items {
		if err := o.stock.ReserveAndCommit(ctx, line.ProductID, line.Quantity); err != nil {
			o.compensateStock(ctx, ev.Draft, reserved)
			o.compensatePayment(ctx, ev.Draft)
			return o.fail(ctx, ev.Draft, StepStockReserve, err)
		}
		reserved = append(reserved, line)
	}
	return o.publish(ctx, domain.StockReserved{Draft: ev.Draft})
}

// onStockReserved 第 4 步：核销券、落订单。券先于订单消耗，
// 落库失败时把券退回，订单行永远不会带着一张核销失败的券存活，
// 失败的 Saga 也不会留下已落库的订单。
func (o *Orchestrator) onStockReserved(ctx context.Context, env eventbus.Envelope, ev domain.StockReserved) error {
	if err := o.append(ctx, env, domain.SagaStockReserved, "", ""); err != nil {
		return err
	}

	if ev.Draft.CouponID != nil {
		if err := o.coupons.UseCoupon(ctx, ev.Draft.UserID, *ev.Draft.CouponID, ev.Draft.OrderNumber); err != nil {
			o.compensateStock(ctx, ev.Draft, ev.Draft.Items)
			o.compensatePayment(ctx, ev.Draft)
			return o.fail(ctx, ev.Draft, StepCouponUse, err)
		}
	}

	// OrderCreated 先暂存，落库成功才发布，
	// 避免订阅者看到一个随后被补偿掉的订单
	staged := eventbus.NewStaged(o.bus)
	order, err := o.createOrder(ctx, ev.Draft)
	if err != nil {
		staged.Discard()
		o.compensateCoupon(ctx, ev.Draft)
		o.compensateStock(ctx, ev.Draft, ev.Draft.Items)
		o.compensatePayment(ctx, ev.Draft)
		return o.fail(ctx, ev.Draft, StepOrderCreation, err)
	}
	if err := staged.Publish(ctx, o.topic, domain.OrderCreated{Draft: ev.Draft, OrderID: order.ID}); err != nil {
		return err
	}
	staged.Flush(ctx)
	return nil
}

func (o *Orchestrator) createOrder(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error) {
	now := time.Now()
	items := make([]domain.OrderItem, 0, len(draft.Items))
	for _, line := range draft.Items {
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	order := &domain.Order{
		OrderNumber:    draft.OrderNumber,
		UserID:         draft.UserID,
		Items:          items,
		CouponID:       draft.CouponID,
		TotalAmount:    draft.TotalAmount,
		DiscountAmount: draft.DiscountAmount,
		FinalAmount:    draft.FinalAmount,
		Status:         domain.OrderCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	payment := &domain.Payment{
		UserID:        draft.UserID,
		Amount:        draft.FinalAmount,
		TransactionID: newTransactionID(),
		Status:        domain.PaymentSuccess,
		PaidAt:        now,
	}
	if err := o.orders.CreateWithPayment(ctx, order, payment); err != nil {
		return nil, err
	}
	return order, nil
}

// onOrderCreated 成功终态。
func (o *Orchestrator) onOrderCreated(ctx context.Context, env eventbus.Envelope, ev domain.OrderCreated) error {
	if err := o.append(ctx, env, domain.SagaCompleted, "", ""); err != nil {
		return err
	}
	metrics.SagaCompleted.Inc()
	logger.Ctx(ctx).Info().
		Str("sagaId", ev.Draft.SagaID).
		Str("orderNumber", ev.Draft.OrderNumber).
		Int64("orderId", ev.OrderID).
		Msg("✅ saga completed, order created")
	if o.monitor != nil {
		o.monitor.SagaEnded(ev.Draft.SagaID, domain.SagaCompleted, "", "")
	}
	return nil
}

// onOrderFailed 失败终态。补偿在发出 OrderFailed 之前已经做完。
func (o *Orchestrator) onOrderFailed(ctx context.Context, env eventbus.Envelope, ev domain.OrderFailed) error {
	if err := o.append(ctx, env, domain.SagaFailed, ev.Step, ev.Reason); err != nil {
		return err
	}
	metrics.SagaFailed.WithLabelValues(ev.Step).Inc()
	logger.Ctx(ctx).Warn().
		Str("sagaId", ev.Draft.SagaID).
		Str("step", ev.Step).
		Str("reason", ev.Reason).
		Msg("🛑 saga failed")
	if o.monitor != nil {
		o.monitor.SagaEnded(ev.Draft.SagaID, domain.SagaFailed, ev.Step, ev.Reason)
	}
	return nil
}

func (o *Orchestrator) recordOnly(ctx context.Context, env eventbus.Envelope) error {
	latest, err := o.sagaLog.Latest(ctx, env.SagaID)
	if err != nil {
		return err
	}
	return o.sagaLog.Append(ctx, &domain.SagaRecord{
		SagaID:    env.SagaID,
		Version:   latest.Version + 1,
		EventType: env.Type,
		State:     latest.State,
		Payload:   env.Payload,
		CreatedAt: time.Now(),
	})
}

// fail 终结 Saga：发 OrderFailed，由其处理器落终态日志。
func (o *Orchestrator) fail(ctx context.Context, draft domain.OrderDraft, step string, cause error) error {
	logger.Ctx(ctx).Warn().Err(cause).
		Str("sagaId", draft.SagaID).
		Str("step", step).
		Msg("saga step failed, terminating")
	return o.publish(ctx, domain.OrderFailed{
		Draft:  draft,
		Step:   step,
		Reason: cause.Error(),
	})
}

// compensateCoupon 退回已核销的券。券从未核销过时 RollbackUse
// 返回 COUPON_NOT_USED，按无事可补处理。
func (o *Orchestrator) compensateCoupon(ctx context.Context, draft domain.OrderDraft) {
	if draft.CouponID == nil {
		return
	}
	err := o.coupons.RollbackUse(ctx, draft.UserID, *draft.CouponID)
	if err == nil || errs.CodeOf(err) == errs.CodeCouponNotUsed {
		return
	}
	metrics.CompensationFailed.WithLabelValues(StepCouponUse).Inc()
	logger.Ctx(ctx).Error().Err(err).
		Str("sagaId", draft.SagaID).
		Int64("couponId", *draft.CouponID).
		Msg("🚨 coupon compensation failed, manual intervention required")
}

// compensatePayment 退款补偿。补偿失败只告警不重试：
// 钱不能因为补偿路径的故障被扣两次，人工处理比自动重试安全。
func (o *Orchestrator) compensatePayment(ctx context.Context, draft domain.OrderDraft) {
	if err := o.balance.Refund(ctx, draft.UserID, draft.FinalAmount, draft.OrderNumber); err != nil {
		metrics.CompensationFailed.WithLabelValues(StepPayment).Inc()
		logger.Ctx(ctx).Error().Err(err).
			Str("sagaId", draft.SagaID).
			Msg("🚨 payment compensation failed, manual intervention required")
		return
	}
	if err := o.publish(ctx, domain.PaymentCompensated{Draft: draft, RefundedAmount: draft.FinalAmount}); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("sagaId", draft.SagaID).Msg("publish payment compensated")
	}
}

// compensateStock 恢复已经扣掉的库存行。
func (o *Orchestrator) compensateStock(ctx context.Context, draft domain.OrderDraft, reserved []domain.OrderLine) {
	if len(reserved) == 0 {
		return
	}
	failed := false
	for _, line := range reserved {
		if err := o.stock.Restore(ctx, line.ProductID, line.Quantity); err != nil {
			failed = true
			metrics.CompensationFailed.WithLabelValues(StepStockReserve).Inc()
			logger.Ctx(ctx).Error().Err(err).
				Str("sagaId", draft.SagaID).
				Int64("productId", line.ProductID).
				Msg("🚨 stock compensation failed, manual intervention required")
		}
	}
	if failed {
		return
	}
	if err := o.publish(ctx, domain.StockCompensated{Draft: draft}); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("sagaId", draft.SagaID).Msg("publish stock compensated")
	}
}

// append 把当前事件追加进 Saga 日志。版本号取最新记录 + 1，
// (saga_id, version) 唯一约束兜底并发写入。
func (o *Orchestrator) append(ctx context.Context, env eventbus.Envelope, state domain.SagaState, step, reason string) error {
	version := 1
	latest, err := o.sagaLog.Latest(ctx, env.SagaID)
	switch {
	case err == nil:
		if latest.State.IsTerminal() {
			return errs.Newf(errs.KindConflict, errs.CodeConflict,
				"saga %s already terminal in state %s", env.SagaID, latest.State)
		}
		if latest.EventType == env.Type {
			// 同一事件的重复投递
			return errs.Newf(errs.KindConflict, errs.CodeConflict,
				"event %s already recorded for saga %s", env.Type, env.SagaID)
		}
		version = latest.Version + 1
	case errs.KindOf(err) == errs.KindNotFound:
		// 第一条记录
	default:
		return err
	}

	return o.sagaLog.Append(ctx, &domain.SagaRecord{
		SagaID:    env.SagaID,
		Version:   version,
		EventType: env.Type,
		State:     state,
		Step:      step,
		Reason:    reason,
		Payload:   env.Payload,
		CreatedAt: time.Now(),
	})
}

func (o *Orchestrator) publish(ctx context.Context, ev eventbus.Event) error {
	return o.bus.Publish(ctx, o.topic, ev)
}

// SagaStatus 查询 Saga 当前状态，供对外接口和监控使用。
func (o *Orchestrator) SagaStatus(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	return o.sagaLog.Latest(ctx, sagaID)
}

// SagaHistory 返回 Saga 的完整事件轨迹。
func (o *Orchestrator) SagaHistory(ctx context.Context, sagaID string) ([]*domain.SagaRecord, error) {
	return o.sagaLog.Load(ctx, sagaID)
}

func newTransactionID() string {
	return fmt.Sprintf("PAY_%d_%s", time.Now().UnixMilli(),
		strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]))
}
