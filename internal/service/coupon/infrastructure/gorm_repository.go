// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flashmart/internal/errs"
	"flashmart/internal/service/coupon/domain"
)

// CouponModel 是 coupons 表的数据库模型。
type CouponModel struct {
	ID                 int64           `gorm:"primaryKey"`
	Name               string          `gorm:"size:255;not null"`
	DiscountType       string          `gorm:"size:16;not null"`
	DiscountValue      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalQuantity      int             `gorm:"not null"`
	IssuedQuantity     int             `gorm:"not null;default:0"`
	MaxDiscountAmount  decimal.Decimal `gorm:"type:decimal(12,2)"`
	MinimumOrderAmount decimal.Decimal `gorm:"type:decimal(12,2)"`
	ApplicabilityRule  string          `gorm:"size:512"`
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (CouponModel) TableName() string { return "coupons" }

// UserCouponModel 是 user_coupons 表的数据库模型。
// (user_id, coupon_id) 上的唯一索引是重复领取的最后防线。
type UserCouponModel struct {
	ID          int64     `gorm:"primaryKey"`
	UserID      int64     `gorm:"not null;uniqueIndex:uk_user_coupon"`
	CouponID    int64     `gorm:"not null;uniqueIndex:uk_user_coupon"`
	Status      string    `gorm:"size:16;not null"`
	IssuedAt    time.Time `gorm:"not null"`
	UsedAt      *time.Time
	OrderNumber *string `gorm:"size:32"`
}

func (UserCouponModel) TableName() string { return "user_coupons" }

func toDomainCoupon(m *CouponModel) *domain.Coupon {
	return &domain.Coupon{
		ID:                 m.ID,
		Name:               m.Name,
		DiscountType:       domain.DiscountType(m.DiscountType),
		DiscountValue:      m.DiscountValue,
		TotalQuantity:      m.TotalQuantity,
		IssuedQuantity:     m.IssuedQuantity,
		MaxDiscountAmount:  m.MaxDiscountAmount,
		MinimumOrderAmount: m.MinimumOrderAmount,
		ApplicabilityRule:  m.ApplicabilityRule,
		ExpiresAt:          m.ExpiresAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toDomainGrant(m *UserCouponModel) *domain.UserCouponGrant {
	return &domain.UserCouponGrant{
		ID:          m.ID,
		UserID:      m.UserID,
		CouponID:    m.CouponID,
		Status:      domain.GrantStatus(m.Status),
		IssuedAt:    m.IssuedAt,
		UsedAt:      m.UsedAt,
		OrderNumber: m.OrderNumber,
	}
}

// GormCouponRepository 是券池端口的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

func (r *GormCouponRepository) FindByID(ctx context.Context, couponID int64) (*domain.Coupon, error) {
	var model CouponModel
	err := r.db.WithContext(ctx).First(&model, couponID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeCouponNotFound, "coupon %d not found", couponID)
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	update := map[string]interface{}{
		"issued_quantity": coupon.IssuedQuantity,
		"updated_at":      coupon.UpdatedAt,
	}
	return r.db.WithContext(ctx).Model(&CouponModel{}).Where("id = ?", coupon.ID).Updates(update).Error
}

func (r *GormCouponRepository) FindAll(ctx context.Context) ([]*domain.Coupon, error) {
	var models []CouponModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Coupon, 0, len(models))
	for i := range models {
		out = append(out, toDomainCoupon(&models[i]))
	}
	return out, nil
}

// GormUserCouponRepository 是用户持券端口的 GORM 实现。
type GormUserCouponRepository struct {
	db *gorm.DB
}

func NewGormUserCouponRepository(db *gorm.DB) *GormUserCouponRepository {
	return &GormUserCouponRepository{db: db}
}

func (r *GormUserCouponRepository) FindByUserAndCoupon(ctx context.Context, userID, couponID int64) (*domain.UserCouponGrant, error) {
	var model UserCouponModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeCouponNotFound,
				"user %d has no coupon %d", userID, couponID)
		}
		return nil, err
	}
	return toDomainGrant(&model), nil
}

func (r *GormUserCouponRepository) Save(ctx context.Context, grant *domain.UserCouponGrant) error {
	model := UserCouponModel{
		ID:          grant.ID,
		UserID:      grant.UserID,
		CouponID:    grant.CouponID,
		Status:      string(grant.Status),
		IssuedAt:    grant.IssuedAt,
		UsedAt:      grant.UsedAt,
		OrderNumber: grant.OrderNumber,
	}
	if model.ID == 0 {
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.Newf(errs.KindConflict, errs.CodeCouponAlreadyIssued,
					"user %d already holds coupon %d", grant.UserID, grant.CouponID)
			}
			return err
		}
		grant.ID = model.ID
		return nil
	}
	update := map[string]interface{}{
		"status":       model.Status,
		"used_at":      model.UsedAt,
		"order_number": model.OrderNumber,
	}
	return r.db.WithContext(ctx).Model(&UserCouponModel{}).Where("id = ?", model.ID).Updates(update).Error
}

func (r *GormUserCouponRepository) FindAvailableByUser(ctx context.Context, userID int64) ([]*domain.UserCouponGrant, error) {
	var models []UserCouponModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(domain.GrantAvailable)).
		Order("issued_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.UserCouponGrant, 0, len(models))
	for i := range models {
		out = append(out, toDomainGrant(&models[i]))
	}
	return out, nil
}
