// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

// OrderStatus 是订单的最终状态。订单只在 Saga 走到创建步骤时才落库，
// 所以不存在中间态的订单行：失败的 Saga 不产生订单。
type OrderStatus string

const (
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus 是支付记录的状态。
type PaymentStatus string

const (
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// OrderItem 是订单里的一行商品。
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order 是一笔已完成的订单。
type Order struct {
	ID             int64
	OrderNumber    string
	UserID         int64
	Items          []OrderItem
	CouponID       *int64
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment 是订单对应的支付记录。
type Payment struct {
	ID            int64
	OrderID       int64
	UserID        int64
	Amount        decimal.Decimal
	TransactionID string
	Status        PaymentStatus
	PaidAt        time.Time
}

// NewOrderNumber 生成对外可见的订单号，形如 ORD-20260901-a1b2c3d4。
func NewOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

// ValidateItems 检查下单的商品行。
func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return errs.New(errs.KindValidation, errs.CodeOrderItemsEmpty, "order must contain at least one item")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidParameter,
				"quantity must be positive, got %d for product %d", item.Quantity, item.ProductID)
		}
	}
	return nil
}
