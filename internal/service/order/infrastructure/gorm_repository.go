// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flashmart/internal/errs"
	"flashmart/internal/service/order/domain"
)

// OrderModel 是 orders 表的数据库模型。
type OrderModel struct {
	ID             int64           `gorm:"primaryKey"`
	OrderNumber    string          `gorm:"size:32;not null;uniqueIndex"`
	UserID         int64           `gorm:"not null;index"`
	CouponID       *int64
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FinalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status         string          `gorm:"size:16;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 是 order_items 表的数据库模型。
type OrderItemModel struct {
	ID        int64           `gorm:"primaryKey"`
	OrderID   int64           `gorm:"not null;index"`
	ProductID int64           `gorm:"not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

// PaymentModel 是 payments 表的数据库模型。
type PaymentModel struct {
	ID            int64           `gorm:"primaryKey"`
	OrderID       int64           `gorm:"not null;index"`
	UserID        int64           `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TransactionID string          `gorm:"size:64;not null;uniqueIndex"`
	Status        string          `gorm:"size:16;not null"`
	PaidAt        time.Time
}

func (PaymentModel) TableName() string { return "payments" }

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// CreateWithPayment 在一个事务里写入订单、明细、支付三张表。
func (r *GormOrderRepository) CreateWithPayment(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := OrderModel{
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			CouponID:       order.CouponID,
			TotalAmount:    order.TotalAmount,
			DiscountAmount: order.DiscountAmount,
			FinalAmount:    order.FinalAmount,
			Status:         string(order.Status),
			CreatedAt:      order.CreatedAt,
			UpdatedAt:      order.UpdatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		order.ID = model.ID

		for i := range order.Items {
			item := OrderItemModel{
				OrderID:   model.ID,
				ProductID: order.Items[i].ProductID,
				Quantity:  order.Items[i].Quantity,
				UnitPrice: order.Items[i].UnitPrice,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			order.Items[i].ID = item.ID
			order.Items[i].OrderID = model.ID
		}

		pay := PaymentModel{
			OrderID:       model.ID,
			UserID:        payment.UserID,
			Amount:        payment.Amount,
			TransactionID: payment.TransactionID,
			Status:        string(payment.Status),
			PaidAt:        payment.PaidAt,
		}
		if err := tx.Create(&pay).Error; err != nil {
			return err
		}
		payment.ID = pay.ID
		payment.OrderID = model.ID
		return nil
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).First(&model, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeOrderNotFound, "order %d not found", orderID)
		}
		return nil, err
	}
	return r.hydrate(ctx, &model)
}

func (r *GormOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeOrderNotFound, "order %s not found", orderNumber)
		}
		return nil, err
	}
	return r.hydrate(ctx, &model)
}

func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		order, err := r.hydrate(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (r *GormOrderRepository) hydrate(ctx context.Context, model *OrderModel) (*domain.Order, error) {
	var itemModels []OrderItemModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", model.ID).Find(&itemModels).Error; err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(itemModels))
	for _, im := range itemModels {
		items = append(items, domain.OrderItem{
			ID:        im.ID,
			OrderID:   im.OrderID,
			ProductID: im.ProductID,
			Quantity:  im.Quantity,
			UnitPrice: im.UnitPrice,
		})
	}
	return &domain.Order{
		ID:             model.ID,
		OrderNumber:    model.OrderNumber,
		UserID:         model.UserID,
		Items:          items,
		CouponID:       model.CouponID,
		TotalAmount:    model.TotalAmount,
		DiscountAmount: model.DiscountAmount,
		FinalAmount:    model.FinalAmount,
		Status:         domain.OrderStatus(model.Status),
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}
