// internal/service/coupon/domain/coupon.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

// DiscountType 是优惠券的折扣类型。
type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"      // 定额
	DiscountPercentage DiscountType = "PERCENTAGE" // 按比例
)

// Coupon 是一类限量优惠券（券池）。
// 不变量：IssuedQuantity 永远不超过 TotalQuantity；过期后停止发放。
// 计数的并发控制在 IssuanceGate，实体方法只做校验与状态推进。
type Coupon struct {
	ID                 int64
	Name               string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	TotalQuantity      int
	IssuedQuantity     int
	MaxDiscountAmount  decimal.Decimal // 零值表示不限
	MinimumOrderAmount decimal.Decimal
	// ApplicabilityRule 是可选的 CEL 表达式，对下单事实求值决定可用性
	ApplicabilityRule string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c *Coupon) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

func (c *Coupon) IsExhausted() bool {
	return c.IssuedQuantity >= c.TotalQuantity
}

func (c *Coupon) RemainingQuantity() int {
	return c.TotalQuantity - c.IssuedQuantity
}

// ValidateIssuable 检查券是否还能发放。
func (c *Coupon) ValidateIssuable() error {
	if c.IsExpired() {
		return errs.Newf(errs.KindConflict, errs.CodeCouponExpired, "coupon %d expired", c.ID)
	}
	if c.IsExhausted() {
		return errs.Newf(errs.KindConflict, errs.CodeCouponExhausted, "coupon %d exhausted", c.ID)
	}
	return nil
}

// Issue 推进发放计数（持久层的记录结果，慢路径）。
func (c *Coupon) Issue() error {
	if err := c.ValidateIssuable(); err != nil {
		return err
	}
	c.IssuedQuantity++
	c.UpdatedAt = time.Now()
	return nil
}

// CalculateDiscount 计算给定订单金额下的实际折扣。
// 折扣不超过 MaxDiscountAmount（若设置），也不超过订单金额本身。
func (c *Coupon) CalculateDiscount(orderAmount decimal.Decimal) (decimal.Decimal, error) {
	if c.IsExpired() {
		return decimal.Zero, errs.Newf(errs.KindConflict, errs.CodeCouponExpired, "coupon %d expired", c.ID)
	}
	if orderAmount.LessThan(c.MinimumOrderAmount) {
		return decimal.Zero, errs.Newf(errs.KindValidation, errs.CodeMinimumOrderAmount,
			"order amount below minimum %s", c.MinimumOrderAmount.String())
	}

	var discount decimal.Decimal
	if c.DiscountType == DiscountFixed {
		discount = c.DiscountValue
	} else {
		discount = orderAmount.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
	}

	if c.MaxDiscountAmount.IsPositive() && discount.GreaterThan(c.MaxDiscountAmount) {
		discount = c.MaxDiscountAmount
	}
	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	return discount, nil
}
