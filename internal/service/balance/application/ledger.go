// internal/service/balance/application/ledger.go
package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/errs"
	"flashmart/internal/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/balance/domain"
)

func balanceLockKey(userID int64) string {
	return fmt.Sprintf("flashmart:balance:%d", userID)
}

// BalanceLedger 是用户余额的唯一变更入口。
// 每个操作都是用户键锁下的单一临界区：读、校验、写一气呵成。
type BalanceLedger struct {
	balances  domain.UserBalanceRepository
	histories domain.BalanceHistoryRepository
	locks     lock.Service
	tracer    trace.Tracer
}

func NewBalanceLedger(balances domain.UserBalanceRepository, histories domain.BalanceHistoryRepository,
	locks lock.Service, tracer trace.Tracer) *BalanceLedger {
	return &BalanceLedger{balances: balances, histories: histories, locks: locks, tracer: tracer}
}

// Charge 充值并记录流水，返回新余额。
func (l *BalanceLedger) Charge(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	ctx, span := l.tracer.Start(ctx, "balance.Charge")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("amount", amount.String()))

	var newBalance decimal.Decimal
	err := lock.WithLock(ctx, l.locks, balanceLockKey(userID), func(ctx context.Context) error {
		balance, err := l.findOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		if err := balance.Charge(amount); err != nil {
			return err
		}
		if err := l.balances.Save(ctx, balance); err != nil {
			return err
		}
		newBalance = balance.Balance

		history := domain.NewChargeHistory(userID, amount, newBalance, generateTransactionID("CHARGE"))
		return l.histories.Append(ctx, history)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return decimal.Zero, err
	}
	return newBalance, nil
}

// Deduct 扣款（支付）。检查与扣减在同一临界区内，返回新余额。
func (l *BalanceLedger) Deduct(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) (decimal.Decimal, error) {
	ctx, span := l.tracer.Start(ctx, "balance.Deduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("amount", amount.String()))

	var newBalance decimal.Decimal
	err := lock.WithLock(ctx, l.locks, balanceLockKey(userID), func(ctx context.Context) error {
		balance, err := l.balances.FindByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if err := balance.Deduct(amount); err != nil {
			return err
		}
		if err := l.balances.Save(ctx, balance); err != nil {
			return err
		}
		newBalance = balance.Balance

		return l.histories.Append(ctx, domain.NewPaymentHistory(userID, amount, newBalance, orderID))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return decimal.Zero, err
	}

	logger.Ctx(ctx).Info().Int64("user_id", userID).Str("amount", amount.String()).
		Str("order_id", orderID).Msg("balance deducted")
	return newBalance, nil
}

// Refund 退款（补偿路径）。超出上限时截断，不允许失败。
func (l *BalanceLedger) Refund(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) error {
	ctx, span := l.tracer.Start(ctx, "balance.Refund")
	defer span.End()

	err := lock.WithLock(ctx, l.locks, balanceLockKey(userID), func(ctx context.Context) error {
		balance, err := l.balances.FindByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if err := balance.Refund(amount); err != nil {
			return err
		}
		if err := l.balances.Save(ctx, balance); err != nil {
			return err
		}
		return l.histories.Append(ctx, domain.NewRefundHistory(userID, amount, balance.Balance, orderID))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.Ctx(ctx).Info().Int64("user_id", userID).Str("amount", amount.String()).
		Str("order_id", orderID).Msg("balance refunded")
	return nil
}

// HasEnough 只读预检，不构成预留：之后的 Deduct 仍可能失败。
func (l *BalanceLedger) HasEnough(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	balance, err := l.balances.FindByUserID(ctx, userID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return balance.HasEnoughBalance(amount), nil
}

// GetBalance 查询当前余额，账户不存在时视作零余额。
func (l *BalanceLedger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	balance, err := l.balances.FindByUserID(ctx, userID)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return balance.Balance, nil
}

// RecentHistories 返回用户最近的余额流水。
func (l *BalanceLedger) RecentHistories(ctx context.Context, userID int64, limit int) ([]*domain.BalanceHistory, error) {
	return l.histories.FindRecentByUserID(ctx, userID, limit)
}

func (l *BalanceLedger) findOrCreate(ctx context.Context, userID int64) (*domain.UserBalance, error) {
	balance, err := l.balances.FindByUserID(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if errs.KindOf(err) == errs.KindNotFound {
		return domain.NewUserBalance(userID), nil
	}
	return nil, err
}

// generateTransactionID 形如 CHARGE_1693550000000_9F3A21BC。
func generateTransactionID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(),
		strings.ToUpper(uuid.New().String()[:8]))
}
