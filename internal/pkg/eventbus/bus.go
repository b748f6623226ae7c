// internal/pkg/eventbus/bus.go
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event 是可以发布到总线上的领域事件。
// PartitionKey 决定分区：只有同 key 的事件之间保证相对顺序。
type Event interface {
	EventName() string
	PartitionKey() string
}

// sagaRef 由属于某个 Saga 的事件实现，SagaID 会被提升到信封上。
type sagaRef interface {
	SagaRef() string
}

// Envelope 是事件在总线上的统一载体。
// 消费端根据 Type 做显式的 switch 分发，不依赖反射注册。
type Envelope struct {
	Type      string          `json:"type"`
	SagaID    string          `json:"sagaId,omitempty"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode 把 payload 反序列化到具体事件类型。
func (e Envelope) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(e.Payload, v), "decode %s payload", e.Type)
}

// Wrap 把事件封装成信封。
func Wrap(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s", ev.EventName())
	}
	env := Envelope{
		Type:      ev.EventName(),
		Key:       ev.PartitionKey(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if s, ok := ev.(sagaRef); ok {
		env.SagaID = s.SagaRef()
	}
	return env, nil
}

// Handler 处理一条投递的消息。返回错误会触发重试，重试耗尽进入死信。
// 投递语义是 at-least-once，处理逻辑必须幂等。
type Handler func(ctx context.Context, env Envelope) error

// DeadLetter 是重试耗尽后的消息及其失败原因。
type DeadLetter struct {
	Topic    string
	Envelope Envelope
	Cause    string
	At       time.Time
}

// Bus 是核心使用的发布/订阅通道。
type Bus interface {
	// Publish 立即发布事件。
	Publish(ctx context.Context, topic string, ev Event) error
	// Subscribe 注册 topic 的处理器，需在 Start 之前调用。
	Subscribe(topic string, h Handler)
	// Start 启动消费循环。
	Start(ctx context.Context) error
	// Stop 优雅停止。
	Stop(ctx context.Context)
}

// RetryPolicy 是消费侧的重试策略：固定间隔、有限次数。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy 每条消息最多尝试 3 次，间隔 1 秒。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

// deliverWithRetry 按策略重试处理器，全部失败时返回最后一次错误。
func deliverWithRetry(ctx context.Context, policy RetryPolicy, h Handler, env Envelope) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if lastErr = h(ctx, env); lastErr == nil {
			return nil
		}
		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(policy.Backoff):
			}
		}
	}
	return lastErr
}
