// internal/service/coupon/domain/user_coupon.go
package domain

import (
	"time"

	"flashmart/internal/errs"
)

// GrantStatus 是用户持券的状态。
type GrantStatus string

const (
	GrantAvailable GrantStatus = "AVAILABLE"
	GrantUsed      GrantStatus = "USED"
	GrantExpired   GrantStatus = "EXPIRED"
)

// UserCouponGrant 是一次发放的结果：(user_id, coupon_id) 上唯一。
// 核销记录的是订单号而不是订单主键：券在订单落库之前核销，
// 订单号在下单时就已分配。
type UserCouponGrant struct {
	ID          int64
	UserID      int64
	CouponID    int64
	Status      GrantStatus
	IssuedAt    time.Time
	UsedAt      *time.Time
	OrderNumber *string
}

func NewGrant(userID, couponID int64) *UserCouponGrant {
	return &UserCouponGrant{
		UserID:   userID,
		CouponID: couponID,
		Status:   GrantAvailable,
		IssuedAt: time.Now(),
	}
}

// Use 将券标记为已用，并记录消费它的订单号。
func (g *UserCouponGrant) Use(orderNumber string) error {
	if g.Status != GrantAvailable {
		return errs.Newf(errs.KindConflict, errs.CodeCouponAlreadyUsed,
			"coupon %d of user %d is %s", g.CouponID, g.UserID, g.Status)
	}
	now := time.Now()
	g.Status = GrantUsed
	g.UsedAt = &now
	g.OrderNumber = &orderNumber
	return nil
}

// RollbackUse 是 Use 的补偿：把券还给用户。
func (g *UserCouponGrant) RollbackUse() error {
	if g.Status != GrantUsed {
		return errs.Newf(errs.KindConflict, errs.CodeCouponNotUsed,
			"coupon %d of user %d is not used", g.CouponID, g.UserID)
	}
	g.Status = GrantAvailable
	g.UsedAt = nil
	g.OrderNumber = nil
	return nil
}
