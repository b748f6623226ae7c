// internal/service/order/domain/event.go
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Saga 事件类型。消费端按类型做显式 switch 分发。
const (
	EventOrderInitiated     = "order.saga.initiated"
	EventStockValidated     = "order.saga.stock_validated"
	EventPaymentProcessed   = "order.saga.payment_processed"
	EventStockReserved      = "order.saga.stock_reserved"
	EventOrderCreated       = "order.saga.order_created"
	EventOrderFailed        = "order.saga.order_failed"
	EventPaymentCompensated = "order.saga.payment_compensated"
	EventStockCompensated   = "order.saga.stock_compensated"
)

// OrderLine 是下单时的一行商品及锁定的单价。
type OrderLine struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// OrderDraft 是 Saga 全程携带的下单上下文。
// 每个事件都带完整 Draft，消费端无需回查即可执行补偿。
type OrderDraft struct {
	SagaID         string          `json:"sagaId"`
	OrderNumber    string          `json:"orderNumber"`
	UserID         int64           `json:"userId"`
	Items          []OrderLine     `json:"items"`
	CouponID       *int64          `json:"couponId,omitempty"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	InitiatedAt    time.Time       `json:"initiatedAt"`
}

func (d OrderDraft) partitionKey() string { return fmt.Sprintf("saga:%s", d.SagaID) }

// OrderInitiated 开启一个下单 Saga。
type OrderInitiated struct {
	Draft OrderDraft `json:"draft"`
}

func (e OrderInitiated) EventName() string    { return EventOrderInitiated }
func (e OrderInitiated) PartitionKey() string { return e.Draft.partitionKey() }
func (e OrderInitiated) SagaRef() string      { return e.Draft.SagaID }

// StockValidated 表示库存预检通过（非预留，只是快速失败）。
type StockValidated struct {
	Draft OrderDraft `json:"draft"`
}

func (e StockValidated) EventName() string    { return EventStockValidated }
func (e StockValidated) PartitionKey() string { return e.Draft.partitionKey() }
func (e StockValidated) SagaRef() string      { return e.Draft.SagaID }

// PaymentProcessed 表示余额已扣款。
type PaymentProcessed struct {
	Draft         OrderDraft      `json:"draft"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	TransactionID string          `json:"transactionId"`
}

func (e PaymentProcessed) EventName() string    { return EventPaymentProcessed }
func (e PaymentProcessed) PartitionKey() string { return e.Draft.partitionKey() }
func (e PaymentProcessed) SagaRef() string      { return e.Draft.SagaID }

// StockReserved 表示库存已真正扣减提交。
type StockReserved struct {
	Draft OrderDraft `json:"draft"`
}

func (e StockReserved) EventName() string    { return EventStockReserved }
func (e StockReserved) PartitionKey() string { return e.Draft.partitionKey() }
func (e StockReserved) SagaRef() string      { return e.Draft.SagaID }

// OrderCreated 是 Saga 的成功终点。
type OrderCreated struct {
	Draft   OrderDraft `json:"draft"`
	OrderID int64      `json:"orderId"`
}

func (e OrderCreated) EventName() string    { return EventOrderCreated }
func (e OrderCreated) PartitionKey() string { return e.Draft.partitionKey() }
func (e OrderCreated) SagaRef() string      { return e.Draft.SagaID }

// OrderFailed 是 Saga 的失败终点，记录失败的步骤和原因。
type OrderFailed struct {
	Draft  OrderDraft `json:"draft"`
	Step   string     `json:"step"`
	Reason string     `json:"reason"`
}

func (e OrderFailed) EventName() string    { return EventOrderFailed }
func (e OrderFailed) PartitionKey() string { return e.Draft.partitionKey() }
func (e OrderFailed) SagaRef() string      { return e.Draft.SagaID }

// PaymentCompensated 表示扣款已退回。
type PaymentCompensated struct {
	Draft          OrderDraft      `json:"draft"`
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
}

func (e PaymentCompensated) EventName() string    { return EventPaymentCompensated }
func (e PaymentCompensated) PartitionKey() string { return e.Draft.partitionKey() }
func (e PaymentCompensated) SagaRef() string      { return e.Draft.SagaID }

// StockCompensated 表示已扣减的库存已恢复。
type StockCompensated struct {
	Draft OrderDraft `json:"draft"`
}

func (e StockCompensated) EventName() string    { return EventStockCompensated }
func (e StockCompensated) PartitionKey() string { return e.Draft.partitionKey() }
func (e StockCompensated) SagaRef() string      { return e.Draft.SagaID }
