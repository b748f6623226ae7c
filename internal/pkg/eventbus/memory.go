// internal/pkg/eventbus/memory.go
package eventbus

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
)

// MemoryBus 是进程内总线，用于单机部署与测试。
// 分区键哈希到固定数量的 worker：同 key 串行（保序），不同 key 并发，
// 整体并发度有界。重试与死信语义和 Kafka 实现保持一致。
type MemoryBus struct {
	workers int
	policy  RetryPolicy

	mu       sync.RWMutex
	handlers map[string][]Handler

	queues  []chan delivery
	wg      sync.WaitGroup
	started bool
	cancel  context.CancelFunc

	dlMu        sync.Mutex
	deadLetters []DeadLetter
	onDead      func(DeadLetter)
}

type delivery struct {
	topic string
	env   Envelope
}

func NewMemoryBus(workers int, policy RetryPolicy) *MemoryBus {
	if workers <= 0 {
		workers = 4
	}
	b := &MemoryBus{
		workers:  workers,
		policy:   policy,
		handlers: make(map[string][]Handler),
		queues:   make([]chan delivery, workers),
	}
	// 队列在这里就位，Start 之前 Publish 的消息先排队等 worker 起来
	for i := range b.queues {
		b.queues[i] = make(chan delivery, 256)
	}
	return b
}

func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// OnDeadLetter 注册死信回调（监控推送用）。
func (b *MemoryBus) OnDeadLetter(fn func(DeadLetter)) {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	b.onDead = fn
}

func (b *MemoryBus) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, q := range b.queues {
		b.wg.Add(1)
		go b.runWorker(runCtx, q)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) runWorker(ctx context.Context, q chan delivery) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q:
			b.mu.RLock()
			hs := b.handlers[d.topic]
			b.mu.RUnlock()
			for _, h := range hs {
				if err := deliverWithRetry(ctx, b.policy, h, d.env); err != nil {
					b.recordDeadLetter(ctx, d, err)
				}
			}
		}
	}
}

func (b *MemoryBus) recordDeadLetter(ctx context.Context, d delivery, cause error) {
	metrics.DeadLetters.WithLabelValues(d.topic).Inc()
	dl := DeadLetter{Topic: d.topic, Envelope: d.env, Cause: cause.Error(), At: time.Now()}

	b.dlMu.Lock()
	b.deadLetters = append(b.deadLetters, dl)
	onDead := b.onDead
	b.dlMu.Unlock()

	payload, _ := json.Marshal(d.env)
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("topic", d.topic).
		Str("event_type", d.env.Type).
		Str("key", d.env.Key).
		RawJSON("envelope", payload).
		Str("cause", cause.Error()).
		Msg("🚨 CRITICAL: message moved to dead letter channel")

	if onDead != nil {
		onDead(dl)
	}
}

// DeadLetters 返回已累计的死信快照。
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

func (b *MemoryBus) Publish(_ context.Context, topic string, ev Event) error {
	env, err := Wrap(ev)
	if err != nil {
		return err
	}
	h := fnv.New32a()
	h.Write([]byte(env.Key))
	idx := int(h.Sum32() % uint32(b.workers))

	b.queues[idx] <- delivery{topic: topic, env: env}
	return nil
}

func (b *MemoryBus) Stop(context.Context) {
	if b.cancel != nil {
		// 给在途消息一点排空时间
		deadline := time.After(2 * time.Second)
	drain:
		for {
			empty := true
			for _, q := range b.queues {
				if len(q) > 0 {
					empty = false
					break
				}
			}
			if empty {
				break drain
			}
			select {
			case <-deadline:
				break drain
			case <-time.After(10 * time.Millisecond):
			}
		}
		b.cancel()
	}
	b.wg.Wait()
}
