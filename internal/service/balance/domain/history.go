// internal/service/balance/domain/history.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType 是余额变动的类型。
type TransactionType string

const (
	TransactionCharge  TransactionType = "CHARGE"
	TransactionPayment TransactionType = "PAYMENT"
	TransactionRefund  TransactionType = "REFUND"
)

// BalanceHistory 记录每一次余额变动，便于审计与对账。
type BalanceHistory struct {
	ID              int64
	UserID          int64
	TransactionType TransactionType
	Amount          decimal.Decimal
	BalanceAfter    decimal.Decimal
	TransactionID   string
	CreatedAt       time.Time
}

func NewChargeHistory(userID int64, amount, balanceAfter decimal.Decimal, transactionID string) *BalanceHistory {
	return newHistory(userID, TransactionCharge, amount, balanceAfter, transactionID)
}

func NewPaymentHistory(userID int64, amount, balanceAfter decimal.Decimal, orderID string) *BalanceHistory {
	return newHistory(userID, TransactionPayment, amount, balanceAfter, orderID)
}

func NewRefundHistory(userID int64, amount, balanceAfter decimal.Decimal, orderID string) *BalanceHistory {
	return newHistory(userID, TransactionRefund, amount, balanceAfter, orderID)
}

func newHistory(userID int64, t TransactionType, amount, balanceAfter decimal.Decimal, txID string) *BalanceHistory {
	return &BalanceHistory{
		UserID:          userID,
		TransactionType: t,
		Amount:          amount,
		BalanceAfter:    balanceAfter,
		TransactionID:   txID,
		CreatedAt:       time.Now(),
	}
}
