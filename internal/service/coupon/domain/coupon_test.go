package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

func validCoupon() *Coupon {
	return &Coupon{
		ID:                 1,
		Name:               "launch week",
		DiscountType:       DiscountFixed,
		DiscountValue:      decimal.NewFromInt(5_000),
		TotalQuantity:      100,
		MinimumOrderAmount: decimal.NewFromInt(10_000),
		ExpiresAt:          time.Now().Add(24 * time.Hour),
	}
}

func TestCoupon_CalculateDiscount(t *testing.T) {
	t.Parallel()

	t.Run("fixed discount", func(t *testing.T) {
		c := validCoupon()
		got, err := c.CalculateDiscount(decimal.NewFromInt(30_000))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !got.Equal(decimal.NewFromInt(5_000)) {
			t.Fatalf("expected 5000, got %s", got)
		}
	})

	t.Run("percentage discount", func(t *testing.T) {
		c := validCoupon()
		c.DiscountType = DiscountPercentage
		c.DiscountValue = decimal.NewFromInt(10)
		got, err := c.CalculateDiscount(decimal.NewFromInt(50_000))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !got.Equal(decimal.NewFromInt(5_000)) {
			t.Fatalf("expected 10%% of 50000 = 5000, got %s", got)
		}
	})

	t.Run("percentage discount capped", func(t *testing.T) {
		c := validCoupon()
		c.DiscountType = DiscountPercentage
		c.DiscountValue = decimal.NewFromInt(20)
		c.MaxDiscountAmount = decimal.NewFromInt(3_000)
		got, err := c.CalculateDiscount(decimal.NewFromInt(100_000))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !got.Equal(decimal.NewFromInt(3_000)) {
			t.Fatalf("expected cap at 3000, got %s", got)
		}
	})

	t.Run("discount never exceeds order amount", func(t *testing.T) {
		c := validCoupon()
		c.DiscountValue = decimal.NewFromInt(50_000)
		c.MinimumOrderAmount = decimal.Zero
		got, err := c.CalculateDiscount(decimal.NewFromInt(20_000))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !got.Equal(decimal.NewFromInt(20_000)) {
			t.Fatalf("discount must clamp to order amount, got %s", got)
		}
	})

	t.Run("below minimum order amount", func(t *testing.T) {
		c := validCoupon()
		_, err := c.CalculateDiscount(decimal.NewFromInt(9_999))
		if errs.CodeOf(err) != errs.CodeMinimumOrderAmount {
			t.Fatalf("expected MINIMUM_ORDER_AMOUNT_NOT_MET, got %v", err)
		}
	})

	t.Run("expired coupon", func(t *testing.T) {
		c := validCoupon()
		c.ExpiresAt = time.Now().Add(-time.Minute)
		_, err := c.CalculateDiscount(decimal.NewFromInt(30_000))
		if errs.CodeOf(err) != errs.CodeCouponExpired {
			t.Fatalf("expected COUPON_EXPIRED, got %v", err)
		}
	})
}

func TestCoupon_Issue(t *testing.T) {
	t.Parallel()

	c := validCoupon()
	c.TotalQuantity = 2

	if err := c.Issue(); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if err := c.Issue(); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if err := c.Issue(); errs.CodeOf(err) != errs.CodeCouponExhausted {
		t.Fatalf("expected COUPON_EXHAUSTED when pool drained, got %v", err)
	}
	if c.IssuedQuantity != 2 {
		t.Fatalf("issued quantity must stop at 2, got %d", c.IssuedQuantity)
	}
}

func TestUserCouponGrant_UseAndRollback(t *testing.T) {
	t.Parallel()

	g := NewGrant(1, 10)
	if err := g.Use("ORD-20260901-aaaa1111"); err != nil {
		t.Fatalf("use: %v", err)
	}
	if g.Status != GrantUsed || g.OrderNumber == nil || *g.OrderNumber != "ORD-20260901-aaaa1111" {
		t.Fatalf("grant not marked used: %+v", g)
	}

	if err := g.Use("ORD-20260901-bbbb2222"); errs.CodeOf(err) != errs.CodeCouponAlreadyUsed {
		t.Fatalf("expected COUPON_ALREADY_USED on double use, got %v", err)
	}

	if err := g.RollbackUse(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if g.Status != GrantAvailable || g.OrderNumber != nil {
		t.Fatalf("rollback must restore availability: %+v", g)
	}

	if err := g.RollbackUse(); errs.CodeOf(err) != errs.CodeCouponNotUsed {
		t.Fatalf("expected COUPON_NOT_USED on double rollback, got %v", err)
	}
}
