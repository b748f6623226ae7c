package domain

import (
	"testing"

	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

func TestUserBalance_Charge(t *testing.T) {
	t.Parallel()

	t.Run("accepts amount within bounds", func(t *testing.T) {
		b := NewUserBalance(1)
		if err := b.Charge(decimal.NewFromInt(10_000)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !b.Balance.Equal(decimal.NewFromInt(10_000)) {
			t.Fatalf("expected balance 10000, got %s", b.Balance)
		}
	})

	t.Run("rejects amount below minimum", func(t *testing.T) {
		b := NewUserBalance(1)
		err := b.Charge(decimal.NewFromInt(999))
		if errs.CodeOf(err) != errs.CodeInvalidChargeAmount {
			t.Fatalf("expected INVALID_CHARGE_AMOUNT, got %v", err)
		}
	})

	t.Run("rejects amount above maximum", func(t *testing.T) {
		b := NewUserBalance(1)
		err := b.Charge(decimal.NewFromInt(1_000_001))
		if errs.CodeOf(err) != errs.CodeInvalidChargeAmount {
			t.Fatalf("expected INVALID_CHARGE_AMOUNT, got %v", err)
		}
	})

	t.Run("rejects charge that would exceed balance cap", func(t *testing.T) {
		b := NewUserBalance(1)
		b.Balance = decimal.NewFromInt(9_500_000)
		err := b.Charge(decimal.NewFromInt(1_000_000))
		if errs.CodeOf(err) != errs.CodeMaxBalanceExceeded {
			t.Fatalf("expected MAX_BALANCE_LIMIT_EXCEEDED, got %v", err)
		}
		if !b.Balance.Equal(decimal.NewFromInt(9_500_000)) {
			t.Fatalf("balance must be unchanged after rejection, got %s", b.Balance)
		}
	})
}

func TestUserBalance_Deduct(t *testing.T) {
	t.Parallel()

	t.Run("deducts when sufficient", func(t *testing.T) {
		b := NewUserBalance(1)
		b.Balance = decimal.NewFromInt(5_000)
		if err := b.Deduct(decimal.NewFromInt(3_000)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !b.Balance.Equal(decimal.NewFromInt(2_000)) {
			t.Fatalf("expected balance 2000, got %s", b.Balance)
		}
	})

	t.Run("rejects when insufficient", func(t *testing.T) {
		b := NewUserBalance(1)
		b.Balance = decimal.NewFromInt(1_000)
		err := b.Deduct(decimal.NewFromInt(3_000))
		if errs.CodeOf(err) != errs.CodeInsufficientBalance {
			t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
		}
		if !errs.IsConflict(err) {
			t.Fatalf("insufficient balance must be a conflict, got kind %v", errs.KindOf(err))
		}
		if !b.Balance.Equal(decimal.NewFromInt(1_000)) {
			t.Fatalf("balance must be unchanged after rejection, got %s", b.Balance)
		}
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		b := NewUserBalance(1)
		if err := b.Deduct(decimal.Zero); err == nil {
			t.Fatal("expected error for zero amount")
		}
	})
}

func TestUserBalance_Refund(t *testing.T) {
	t.Parallel()

	t.Run("never fails for the cap, clamps instead", func(t *testing.T) {
		b := NewUserBalance(1)
		b.Balance = decimal.NewFromInt(9_900_000)
		if err := b.Refund(decimal.NewFromInt(500_000)); err != nil {
			t.Fatalf("refund must not fail at the cap, got %v", err)
		}
		if !b.Balance.Equal(MaxBalanceLimit) {
			t.Fatalf("expected balance clamped to %s, got %s", MaxBalanceLimit, b.Balance)
		}
	})

	t.Run("restores the deducted amount", func(t *testing.T) {
		b := NewUserBalance(1)
		b.Balance = decimal.NewFromInt(2_000)
		if err := b.Refund(decimal.NewFromInt(3_000)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !b.Balance.Equal(decimal.NewFromInt(5_000)) {
			t.Fatalf("expected balance 5000, got %s", b.Balance)
		}
	})
}
