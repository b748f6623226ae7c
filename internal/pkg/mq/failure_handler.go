// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
)

// FailureHandler 把重试耗尽的消息转入死信 topic。
// 消息永远不会被静默丢弃：转发失败时原样记录到日志，等待人工处理。
type FailureHandler struct {
	dltWriter *kafka.Writer
	topic     string
}

func NewFailureHandler(brokers []string, sourceTopic string) *FailureHandler {
	return &FailureHandler{
		dltWriter: NewWriter(brokers, sourceTopic+DltSuffix),
		topic:     sourceTopic,
	}
}

// Handle 将失败消息连同原始位置、失败原因一起写入死信 topic。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	headers := append(msg.Headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(h.topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)

	metrics.DeadLetters.WithLabelValues(h.topic).Inc()

	err := h.dltWriter.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		// 死信投递也失败了，把完整消息落到日志里，绝不丢弃
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", h.topic).
			Str("key", string(msg.Key)).
			Str("value", string(msg.Value)).
			Str("cause", cause.Error()).
			Msg("🚨 CRITICAL: failed to forward message to DLT")
	}
}

func (h *FailureHandler) Close() error { return h.dltWriter.Close() }
