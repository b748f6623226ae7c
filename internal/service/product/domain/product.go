// internal/service/product/domain/product.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"flashmart/internal/errs"
)

// Product 是商品聚合根。库存的所有变更都必须经由 StockLedger
// 在键锁保护下进行，实体方法只做不变量检查，不做任何持久化。
type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReduceStock 扣减库存。余量不足时拒绝而不是截断。
func (p *Product) ReduceStock(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindValidation, errs.CodeValidationError, "quantity must be positive")
	}
	if !p.HasEnoughStock(quantity) {
		return errs.Newf(errs.KindConflict, errs.CodeInsufficientStock,
			"insufficient stock for product %d: requested %d, remaining %d", p.ID, quantity, p.StockQuantity)
	}
	p.StockQuantity -= quantity
	p.UpdatedAt = time.Now()
	return nil
}

// RestoreStock 恢复库存（补偿路径）。只回滚先前的扣减，不设上限。
func (p *Product) RestoreStock(quantity int) error {
	if quantity <= 0 {
		return errs.New(errs.KindValidation, errs.CodeValidationError, "quantity must be positive")
	}
	p.StockQuantity += quantity
	p.UpdatedAt = time.Now()
	return nil
}

func (p *Product) HasEnoughStock(quantity int) bool {
	return p.StockQuantity >= quantity
}
