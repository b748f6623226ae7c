// internal/service/order/infrastructure/saga_log.go
package infrastructure

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"flashmart/internal/errs"
	"flashmart/internal/service/order/domain"
)

// SagaEventModel 是 saga_events 表的数据库模型。
// 只追加不更新：(saga_id, version) 上的唯一索引保证并发写入者
// 最多一个成功，其余拿到重复键错误。
type SagaEventModel struct {
	ID        int64     `gorm:"primaryKey"`
	SagaID    string    `gorm:"size:36;not null;uniqueIndex:uk_saga_version"`
	Version   int       `gorm:"not null;uniqueIndex:uk_saga_version"`
	EventType string    `gorm:"size:64;not null"`
	State     string    `gorm:"size:32;not null"`
	Step      string    `gorm:"size:32"`
	Reason    string    `gorm:"size:512"`
	Payload   []byte    `gorm:"type:json"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SagaEventModel) TableName() string { return "saga_events" }

func toDomainRecord(m *SagaEventModel) *domain.SagaRecord {
	return &domain.SagaRecord{
		ID:        m.ID,
		SagaID:    m.SagaID,
		Version:   m.Version,
		EventType: m.EventType,
		State:     domain.SagaState(m.State),
		Step:      m.Step,
		Reason:    m.Reason,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

// GormSagaLog 是持久化 Saga 日志。进程崩溃后日志仍在，
// 可以恢复未完成的 Saga，也是排障时的事件审计轨迹。
type GormSagaLog struct {
	db *gorm.DB
}

func NewGormSagaLog(db *gorm.DB) *GormSagaLog {
	return &GormSagaLog{db: db}
}

func (l *GormSagaLog) Append(ctx context.Context, record *domain.SagaRecord) error {
	model := SagaEventModel{
		SagaID:    record.SagaID,
		Version:   record.Version,
		EventType: record.EventType,
		State:     string(record.State),
		Step:      record.Step,
		Reason:    record.Reason,
		Payload:   record.Payload,
		CreatedAt: record.CreatedAt,
	}
	if err := l.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.Newf(errs.KindConflict, errs.CodeConflict,
				"saga %s version %d already recorded", record.SagaID, record.Version)
		}
		return err
	}
	record.ID = model.ID
	return nil
}

func (l *GormSagaLog) Load(ctx context.Context, sagaID string) ([]*domain.SagaRecord, error) {
	var models []SagaEventModel
	err := l.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("version ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.SagaRecord, 0, len(models))
	for i := range models {
		out = append(out, toDomainRecord(&models[i]))
	}
	return out, nil
}

func (l *GormSagaLog) Latest(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	var model SagaEventModel
	err := l.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("version DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeNotFound, "saga %s not found", sagaID)
		}
		return nil, err
	}
	return toDomainRecord(&model), nil
}

var _ domain.SagaLogRepository = (*GormSagaLog)(nil)

// MemorySagaLog 是进程内的 Saga 日志，语义与 GormSagaLog 一致，
// 供测试和单机运行使用。
type MemorySagaLog struct {
	mu      sync.RWMutex
	records map[string][]*domain.SagaRecord
	nextID  int64
}

func NewMemorySagaLog() *MemorySagaLog {
	return &MemorySagaLog{records: make(map[string][]*domain.SagaRecord)}
}

func (l *MemorySagaLog) Append(ctx context.Context, record *domain.SagaRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.records[record.SagaID] {
		if existing.Version == record.Version {
			return errs.Newf(errs.KindConflict, errs.CodeConflict,
				"saga %s version %d already recorded", record.SagaID, record.Version)
		}
	}

	l.nextID++
	stored := *record
	stored.ID = l.nextID
	record.ID = l.nextID
	l.records[record.SagaID] = append(l.records[record.SagaID], &stored)
	sort.Slice(l.records[record.SagaID], func(i, j int) bool {
		return l.records[record.SagaID][i].Version < l.records[record.SagaID][j].Version
	})
	return nil
}

func (l *MemorySagaLog) Load(ctx context.Context, sagaID string) ([]*domain.SagaRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := l.records[sagaID]
	out := make([]*domain.SagaRecord, len(records))
	for i, r := range records {
		copied := *r
		out[i] = &copied
	}
	return out, nil
}

func (l *MemorySagaLog) Latest(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := l.records[sagaID]
	if len(records) == 0 {
		return nil, errs.Newf(errs.KindNotFound, errs.CodeNotFound, "saga %s not found", sagaID)
	}
	copied := *records[len(records)-1]
	return &copied, nil
}

var _ domain.SagaLogRepository = (*MemorySagaLog)(nil)
