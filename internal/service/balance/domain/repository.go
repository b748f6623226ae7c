// internal/service/balance/domain/repository.go
package domain

import "context"

// UserBalanceRepository 是余额的持久化出站端口。
type UserBalanceRepository interface {
	// FindByUserID 不存在时返回 NOT_FOUND 业务错误。
	FindByUserID(ctx context.Context, userID int64) (*UserBalance, error)
	Save(ctx context.Context, balance *UserBalance) error
}

// BalanceHistoryRepository 追加余额变动流水。
type BalanceHistoryRepository interface {
	Append(ctx context.Context, history *BalanceHistory) error
	FindRecentByUserID(ctx context.Context, userID int64, limit int) ([]*BalanceHistory, error)
}
