// internal/pkg/eventbus/kafka.go
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
)

// KafkaBus 是总线的 Kafka 实现。
// 信封整体作为消息体，分区键作为消息 key（哈希分区保证同 key 保序）。
// 消费失败按策略重试，重试耗尽交给 FailureHandler 进死信 topic。
type KafkaBus struct {
	brokers []string
	groupID string
	policy  RetryPolicy

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	subs    []kafkaSub

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped bool
}

type kafkaSub struct {
	topic   string
	handler Handler
}

func NewKafkaBus(brokers []string, groupID string, policy RetryPolicy) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		groupID: groupID,
		policy:  policy,
		writers: make(map[string]*kafka.Writer),
	}
}

func (b *KafkaBus) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.writers[topic]
	if !ok {
		w = mq.NewWriter(b.brokers, topic)
		b.writers[topic] = w
	}
	return w
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, ev Event) error {
	env, err := Wrap(ev)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	err = mq.ProduceMessage(ctx, b.writer(topic), []byte(env.Key), value,
		kafka.Header{Key: mq.HeaderEventType, Value: []byte(env.Type)})
	return errors.Wrapf(err, "publish %s to %s", env.Type, topic)
}

func (b *KafkaBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, kafkaSub{topic: topic, handler: h})
}

func (b *KafkaBus) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, sub := range b.subs {
		reader := mq.NewReader(b.brokers, b.groupID, sub.topic)
		failureHandler := mq.NewFailureHandler(b.brokers, sub.topic)
		b.wg.Add(1)
		go b.consumeLoop(runCtx, reader, failureHandler, sub)
	}
	return nil
}

func (b *KafkaBus) consumeLoop(ctx context.Context, reader *kafka.Reader, fh *mq.FailureHandler, sub kafkaSub) {
	defer b.wg.Done()
	defer reader.Close()
	defer fh.Close()

	logger.Ctx(ctx).Info().Str("topic", sub.topic).Msg("✅ event bus consumer started")

	for {
		// FetchMessage 而不是 ReadMessage，便于手动控制提交与退出
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Str("topic", sub.topic).Msg("🛑 event bus consumer shutting down")
				return
			}
			logger.Ctx(ctx).Error().Err(err).Str("topic", sub.topic).Msg("could not fetch message, retrying")
			time.Sleep(time.Second)
			continue
		}

		carrier := mq.KafkaHeaderCarrier(msg.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			// 无法解析的消息直接进死信，重试没有意义
			fh.Handle(msgCtx, msg, errors.Wrap(err, "unmarshal envelope"))
		} else if err := deliverWithRetry(msgCtx, b.policy, sub.handler, env); err != nil {
			fh.Handle(msgCtx, msg, err)
		}

		// 无论成功还是已转入死信，都提交 offset
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", sub.topic).Msg("failed to commit offset")
		}
	}
}

func (b *KafkaBus) Stop(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.writers {
		w.Close()
	}
	logger.Ctx(ctx).Info().Msg("✅ event bus stopped")
}
