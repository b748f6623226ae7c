// internal/service/balance/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flashmart/internal/errs"
	"flashmart/internal/service/balance/domain"
)

// UserBalanceModel 是 user_balances 表的数据库模型。
type UserBalanceModel struct {
	ID        int64           `gorm:"primaryKey"`
	UserID    int64           `gorm:"uniqueIndex;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserBalanceModel) TableName() string { return "user_balances" }

// BalanceHistoryModel 是 balance_histories 表的数据库模型。
type BalanceHistoryModel struct {
	ID              int64           `gorm:"primaryKey"`
	UserID          int64           `gorm:"index;not null"`
	TransactionType string          `gorm:"size:16;not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TransactionID   string          `gorm:"size:64;not null"`
	CreatedAt       time.Time
}

func (BalanceHistoryModel) TableName() string { return "balance_histories" }

// GormBalanceRepository 同时实现余额与流水两个仓储端口。
type GormBalanceRepository struct {
	db *gorm.DB
}

func NewGormBalanceRepository(db *gorm.DB) *GormBalanceRepository {
	return &GormBalanceRepository{db: db}
}

func (r *GormBalanceRepository) FindByUserID(ctx context.Context, userID int64) (*domain.UserBalance, error) {
	var model UserBalanceModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeUserNotFound, "balance for user %d not found", userID)
		}
		return nil, err
	}
	return &domain.UserBalance{
		ID:        model.ID,
		UserID:    model.UserID,
		Balance:   model.Balance,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// Save 对新账户做插入，已有账户按 user_id 更新余额。
func (r *GormBalanceRepository) Save(ctx context.Context, balance *domain.UserBalance) error {
	if balance.ID == 0 {
		model := UserBalanceModel{
			UserID:    balance.UserID,
			Balance:   balance.Balance,
			CreatedAt: balance.CreatedAt,
			UpdatedAt: balance.UpdatedAt,
		}
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			return err
		}
		balance.ID = model.ID
		return nil
	}
	return r.db.WithContext(ctx).Model(&UserBalanceModel{}).
		Where("user_id = ?", balance.UserID).
		Updates(map[string]interface{}{
			"balance":    balance.Balance,
			"updated_at": balance.UpdatedAt,
		}).Error
}

func (r *GormBalanceRepository) Append(ctx context.Context, history *domain.BalanceHistory) error {
	model := BalanceHistoryModel{
		UserID:          history.UserID,
		TransactionType: string(history.TransactionType),
		Amount:          history.Amount,
		BalanceAfter:    history.BalanceAfter,
		TransactionID:   history.TransactionID,
		CreatedAt:       history.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *GormBalanceRepository) FindRecentByUserID(ctx context.Context, userID int64, limit int) ([]*domain.BalanceHistory, error) {
	var models []BalanceHistoryModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BalanceHistory, 0, len(models))
	for i := range models {
		m := &models[i]
		out = append(out, &domain.BalanceHistory{
			ID:              m.ID,
			UserID:          m.UserID,
			TransactionType: domain.TransactionType(m.TransactionType),
			Amount:          m.Amount,
			BalanceAfter:    m.BalanceAfter,
			TransactionID:   m.TransactionID,
			CreatedAt:       m.CreatedAt,
		})
	}
	return out, nil
}
