// internal/service/order/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	couponapp "flashmart/internal/service/coupon/application"
	"flashmart/internal/service/order/domain"
	productdomain "flashmart/internal/service/product/domain"
)

// CatalogPort 提供下单时的商品快照（锁定当时价格）。
type CatalogPort interface {
	GetProduct(ctx context.Context, productID int64) (*productdomain.Product, error)
}

// CouponValidator 校验券并计算折扣。
type CouponValidator interface {
	ValidateAndCalculateDiscount(ctx context.Context, userID, couponID int64, orderAmount decimal.Decimal, itemCount int) (*couponapp.ValidationResult, error)
}

// CreateOrderRequest 是下单入参。
type CreateOrderRequest struct {
	UserID   int64
	Items    []ItemRequest
	CouponID *int64
}

type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// CreateOrderAck 是下单受理回执：Saga 已启动，结果异步可查。
type CreateOrderAck struct {
	SagaID      string
	OrderNumber string
	FinalAmount decimal.Decimal
}

// OrderService 是下单入口。同步阶段只做定价、券校验和参数检查，
// 然后发出 OrderInitiated 交给编排器异步推进。
type OrderService struct {
	catalog   CatalogPort
	validator CouponValidator
	orders    domain.OrderRepository
	bus       eventbus.Bus
	topic     string
	tracer    trace.Tracer
}

func NewOrderService(
	catalog CatalogPort,
	validator CouponValidator,
	orders domain.OrderRepository,
	bus eventbus.Bus,
	topic string,
	tracer trace.Tracer,
) *OrderService {
	return &OrderService{
		catalog:   catalog,
		validator: validator,
		orders:    orders,
		bus:       bus,
		topic:     topic,
		tracer:    tracer,
	}
}

// CreateOrder 受理一笔下单并启动 Saga。
// 价格在此刻锁定进 Draft，后续步骤不再回查价格。
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderAck, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", req.UserID))

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if err := domain.ValidateItems(items); err != nil {
		return nil, err
	}

	now := time.Now()
	lines := make([]domain.OrderLine, 0, len(req.Items))
	total := decimal.Zero
	itemCount := 0
	for _, it := range req.Items {
		product, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.OrderLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		itemCount += it.Quantity
	}

	discount := decimal.Zero
	if req.CouponID != nil {
		result, err := s.validator.ValidateAndCalculateDiscount(ctx, req.UserID, *req.CouponID, total, itemCount)
		if err != nil {
			return nil, err
		}
		if !result.Usable {
			return nil, errs.Newf(errs.KindValidation, errs.Code(result.Reason),
				"coupon %d not usable: %s", *req.CouponID, result.Reason)
		}
		discount = result.DiscountAmount
	}

	draft := domain.OrderDraft{
		SagaID:         uuid.NewString(),
		OrderNumber:    domain.NewOrderNumber(now),
		UserID:         req.UserID,
		Items:          lines,
		CouponID:       req.CouponID,
		TotalAmount:    total,
		DiscountAmount: discount,
		FinalAmount:    total.Sub(discount),
		InitiatedAt:    now,
	}

	if err := s.bus.Publish(ctx, s.topic, domain.OrderInitiated{Draft: draft}); err != nil {
		return nil, errs.Wrap(err, errs.KindInfrastructure, errs.CodeInternalError, "publish order initiated")
	}

	logger.Ctx(ctx).Info().
		Str("sagaId", draft.SagaID).
		Str("orderNumber", draft.OrderNumber).
		Str("finalAmount", draft.FinalAmount.String()).
		Msg("order saga initiated")
	return &CreateOrderAck{
		SagaID:      draft.SagaID,
		OrderNumber: draft.OrderNumber,
		FinalAmount: draft.FinalAmount,
	}, nil
}

// GetOrder 查询订单详情。
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

// GetOrderByNumber 按订单号查询。
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.orders.FindByOrderNumber(ctx, orderNumber)
}

// ListUserOrders 查询用户的历史订单。
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return s.orders.FindByUserID(ctx, userID)
}
