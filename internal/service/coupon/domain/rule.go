// internal/service/coupon/domain/rule.go
package domain

import "context"

// OrderFact 是规则求值的输入事实。
type OrderFact struct {
	UserID      int64
	OrderAmount float64
	ItemCount   int
}

// RuleEngine 对券上配置的可用性规则求值。
// 空规则视为无条件可用。
type RuleEngine interface {
	Evaluate(ctx context.Context, rule string, fact OrderFact) (bool, error)
}
