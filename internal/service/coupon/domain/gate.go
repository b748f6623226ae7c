// internal/service/coupon/domain/gate.go
package domain

import "context"

// GateResult 是快路径上的发放裁决。
type GateResult int

const (
	GateIssued    GateResult = iota // 抢到名额
	GateExhausted                   // 已售罄
	GateDuplicate                   // 该用户已领过
)

// IssuanceGate 是发放闸门：先去重、再做计数倒扣的快路径裁决。
// TryIssue 在一次原子操作里完成判定，避免去重和扣减之间的竞争窗口。
// 计数用“先扣再回补”的方式实现：扣成负数说明名额已空，立即加回去。
// 两个并发请求可能同时看到瞬时负值，但回补保证计数最终不漂移，
// 且不会有第 N+1 个用户真正拿到名额。
// Rollback 在慢路径落库失败时撤销裁决结果。
type IssuanceGate interface {
	TryIssue(ctx context.Context, couponID, userID int64) (GateResult, error)
	Rollback(ctx context.Context, couponID, userID int64) error
	IsIssued(ctx context.Context, couponID, userID int64) (bool, error)
	// SeedStock 把持久层剩余量写入计数器，仅在计数器不存在时生效。
	SeedStock(ctx context.Context, couponID int64, remaining int) error
}
