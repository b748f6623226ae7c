// internal/service/order/domain/saga.go
package domain

import (
	"context"
	"time"
)

// SagaState 是 Saga 的推进状态，由追加的事件记录推导。
type SagaState string

const (
	SagaStarted          SagaState = "STARTED"
	SagaStockValidated   SagaState = "STOCK_VALIDATED"
	SagaPaymentProcessed SagaState = "PAYMENT_PROCESSED"
	SagaStockReserved    SagaState = "STOCK_RESERVED"
	SagaCompleted        SagaState = "COMPLETED"
	SagaFailed           SagaState = "FAILED"
)

// IsTerminal 终态后的事件只记录不再推进。
func (s SagaState) IsTerminal() bool {
	return s == SagaCompleted || s == SagaFailed
}

// SagaRecord 是 Saga 日志里的一条追加记录。
// (saga_id, version) 上唯一：version 从 1 递增，追加冲突说明
// 有并发写入者，CONFLICT 返回后由调用方放弃本次推进。
type SagaRecord struct {
	ID        int64
	SagaID    string
	Version   int
	EventType string
	State     SagaState
	Step      string // 失败记录才有，标记失败的步骤
	Reason    string
	Payload   []byte // 事件信封的 JSON 快照
	CreatedAt time.Time
}

// SagaLogRepository 是追加式 Saga 日志的端口。
// 日志只追加不更新，历史记录永不改写，崩溃后可据此恢复与审计。
type SagaLogRepository interface {
	// Append 追加一条记录。(saga_id, version) 冲突返回 KindConflict。
	Append(ctx context.Context, record *SagaRecord) error
	// Load 按 version 升序返回一个 Saga 的全部记录。
	Load(ctx context.Context, sagaID string) ([]*SagaRecord, error)
	// Latest 返回最新一条记录，Saga 不存在时返回 KindNotFound。
	Latest(ctx context.Context, sagaID string) (*SagaRecord, error)
}
