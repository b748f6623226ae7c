// internal/service/product/application/stock_ledger.go
package application

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/product/domain"
)

func stockLockKey(productID int64) string {
	return fmt.Sprintf("flashmart:stock:%d", productID)
}

// StockLedger 是库存的唯一变更入口。
// 检查与扣减在同一个键锁临界区内完成，绝不拆成两次加锁。
type StockLedger struct {
	repo   domain.ProductRepository
	locks  lock.Service
	tracer trace.Tracer
}

func NewStockLedger(repo domain.ProductRepository, locks lock.Service, tracer trace.Tracer) *StockLedger {
	return &StockLedger{repo: repo, locks: locks, tracer: tracer}
}

// ReserveAndCommit 在锁内重读库存、校验并扣减。
// InsufficientStock 是高并发下的正常结果，不自动重试。
func (s *StockLedger) ReserveAndCommit(ctx context.Context, productID int64, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "stock.ReserveAndCommit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	err := lock.WithLock(ctx, s.locks, stockLockKey(productID), func(ctx context.Context) error {
		product, err := s.repo.FindByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := product.ReduceStock(quantity); err != nil {
			return err
		}
		return s.repo.Save(ctx, product)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.AddEvent("stock reserved and committed")
	return nil
}

// Restore 是补偿路径：在锁内把先前扣减的数量加回去。
func (s *StockLedger) Restore(ctx context.Context, productID int64, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "stock.Restore")
	defer span.End()

	err := lock.WithLock(ctx, s.locks, stockLockKey(productID), func(ctx context.Context) error {
		product, err := s.repo.FindByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := product.RestoreStock(quantity); err != nil {
			return err
		}
		return s.repo.Save(ctx, product)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Error().Err(err).Int64("product_id", productID).Int("quantity", quantity).
			Msg("stock restore failed")
		return err
	}

	logger.Ctx(ctx).Info().Int64("product_id", productID).Int("quantity", quantity).Msg("stock restored")
	return nil
}

// HasEnoughStock 是只读的预检，不构成预留：
// 返回 true 之后并发的扣减仍可能让后续 ReserveAndCommit 失败。
func (s *StockLedger) HasEnoughStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return false, err
	}
	return product.HasEnoughStock(quantity), nil
}

// GetProduct 查询商品快照（价格、库存）。
func (s *StockLedger) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	return s.repo.FindByID(ctx, productID)
}
