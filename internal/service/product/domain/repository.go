// internal/service/product/domain/repository.go
package domain

import "context"

// ProductRepository 是商品的持久化出站端口。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (*Product, error)
	Save(ctx context.Context, product *Product) error
	FindAll(ctx context.Context) ([]*Product, error)
}
