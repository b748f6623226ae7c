// internal/pkg/mq/mq.go
package mq

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// 死信消息上携带的诊断头，供 DLT 监控排障使用。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderEventType         = "x-event-type"
)

// DltSuffix 追加在业务 topic 之后构成死信 topic。
const DltSuffix = ".DLT"

// NewWriter 创建按 key 哈希分区的 writer，保证同 key 消息的相对顺序。
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewReader 创建消费组 reader。
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // 手动提交
	})
}
