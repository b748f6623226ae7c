// internal/service/product/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flashmart/internal/errs"
	"flashmart/internal/service/product/domain"
)

// ProductModel 是 products 表的数据库模型。
type ProductModel struct {
	ID            int64           `gorm:"primaryKey"`
	Name          string          `gorm:"size:255;not null"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	StockQuantity int             `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProductModel) TableName() string { return "products" }

func toDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:            m.ID,
		Name:          m.Name,
		Price:         m.Price,
		StockQuantity: m.StockQuantity,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// GormProductRepository 是 ProductRepository 的 GORM 实现。
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeProductNotFound, "product %d not found", id)
		}
		return nil, err
	}
	return toDomainProduct(&model), nil
}

func (r *GormProductRepository) Save(ctx context.Context, product *domain.Product) error {
	update := map[string]interface{}{
		"stock_quantity": product.StockQuantity,
		"updated_at":     product.UpdatedAt,
	}
	return r.db.WithContext(ctx).Model(&ProductModel{}).Where("id = ?", product.ID).Updates(update).Error
}

func (r *GormProductRepository) FindAll(ctx context.Context) ([]*domain.Product, error) {
	var models []ProductModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Product, 0, len(models))
	for i := range models {
		out = append(out, toDomainProduct(&models[i]))
	}
	return out, nil
}
