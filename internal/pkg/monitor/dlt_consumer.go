// internal/pkg/monitor/dlt_consumer.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
)

// DltConsumer 监听死信 topic：记录结构化日志并推给监控端。
// 死信消息总是直接提交，记录本身就是对它的“处理”。
type DltConsumer struct {
	reader  *kafka.Reader
	hub     *Hub
	wg      sync.WaitGroup
	stopped bool
}

func NewDltConsumer(reader *kafka.Reader, hub *Hub) *DltConsumer {
	return &DltConsumer{reader: reader, hub: hub}
}

func (c *DltConsumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("✅ DLT consumer started")
		for {
			if c.stopped {
				return
			}
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 DLT consumer shutting down")
					return
				}
				continue
			}

			c.record(ctx, msg)
			c.reader.CommitMessages(ctx, msg)
		}
	}()
	return nil
}

func (c *DltConsumer) Stop(ctx context.Context) {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("✅ DLT consumer stopped")
}

func (c *DltConsumer) record(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: dead letter message received")

	if c.hub != nil {
		c.hub.Broadcast(Frame{
			Kind: "dead_letter",
			At:   time.Now(),
			Detail: map[string]string{
				"originalTopic": headers[mq.HeaderOriginalTopic],
				"error":         headers[mq.HeaderExceptionMessage],
				"key":           string(msg.Key),
			},
		})
	}
}
