// internal/service/coupon/domain/repository.go
package domain

import "context"

// CouponRepository 是券池的持久化端口。
type CouponRepository interface {
	FindByID(ctx context.Context, couponID int64) (*Coupon, error)
	Save(ctx context.Context, coupon *Coupon) error
	FindAll(ctx context.Context) ([]*Coupon, error)
}

// UserCouponRepository 是用户持券的持久化端口。
// FindByUserAndCoupon 在不存在时返回 COUPON_NOT_FOUND。
type UserCouponRepository interface {
	FindByUserAndCoupon(ctx context.Context, userID, couponID int64) (*UserCouponGrant, error)
	Save(ctx context.Context, grant *UserCouponGrant) error
	FindAvailableByUser(ctx context.Context, userID int64) ([]*UserCouponGrant, error)
}
