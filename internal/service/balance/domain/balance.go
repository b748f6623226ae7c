// internal/service/balance/domain/balance.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

// 金额边界。充值金额必须落在 [MinChargeAmount, MaxChargeAmount]，
// 账户余额任何时刻不超过 MaxBalanceLimit、不为负。
var (
	MinChargeAmount = decimal.NewFromInt(1_000)
	MaxChargeAmount = decimal.NewFromInt(1_000_000)
	MaxBalanceLimit = decimal.NewFromInt(10_000_000)
)

// UserBalance 是用户余额聚合根。
// 一次 Charge/Deduct/Refund 调用就是一致性单元，不存在部分生效。
type UserBalance struct {
	ID        int64
	UserID    int64
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserBalance 创建零余额账户。
func NewUserBalance(userID int64) *UserBalance {
	now := time.Now()
	return &UserBalance{
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Charge 充值。金额越界或触达余额上限时整体拒绝。
func (b *UserBalance) Charge(amount decimal.Decimal) error {
	if err := validateChargeAmount(amount); err != nil {
		return err
	}

	newBalance := b.Balance.Add(amount)
	if newBalance.GreaterThan(MaxBalanceLimit) {
		return errs.New(errs.KindValidation, errs.CodeMaxBalanceExceeded, "charge would exceed max balance limit")
	}

	b.Balance = newBalance
	b.UpdatedAt = time.Now()
	return nil
}

// Deduct 扣款（支付）。余额不足时拒绝，检查与扣减不可分离。
func (b *UserBalance) Deduct(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errs.New(errs.KindValidation, errs.CodeValidationError, "deduct amount must be positive")
	}
	if b.Balance.LessThan(amount) {
		return errs.Newf(errs.KindConflict, errs.CodeInsufficientBalance,
			"insufficient balance for user %d", b.UserID)
	}
	b.Balance = b.Balance.Sub(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// Refund 退款（补偿路径）。退款不允许失败：
// 超出余额上限时截断到上限，而不是拒绝。
func (b *UserBalance) Refund(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errs.New(errs.KindValidation, errs.CodeValidationError, "refund amount must be positive")
	}

	newBalance := b.Balance.Add(amount)
	if newBalance.GreaterThan(MaxBalanceLimit) {
		newBalance = MaxBalanceLimit
	}
	b.Balance = newBalance
	b.UpdatedAt = time.Now()
	return nil
}

func (b *UserBalance) HasEnoughBalance(amount decimal.Decimal) bool {
	return b.Balance.GreaterThanOrEqual(amount)
}

func validateChargeAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) ||
		amount.LessThan(MinChargeAmount) ||
		amount.GreaterThan(MaxChargeAmount) {
		return errs.New(errs.KindValidation, errs.CodeInvalidChargeAmount, "invalid charge amount")
	}
	return nil
}
