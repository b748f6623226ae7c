// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 是订单聚合（订单 + 明细 + 支付）的持久化端口。
// CreateWithPayment 在一个事务里落下三张表，部分成功不可见。
type OrderRepository interface {
	CreateWithPayment(ctx context.Context, order *Order, payment *Payment) error
	FindByID(ctx context.Context, orderID int64) (*Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)
	FindByUserID(ctx context.Context, userID int64) ([]*Order, error)
}
