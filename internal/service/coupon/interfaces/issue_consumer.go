// internal/service/coupon/interfaces/issue_consumer.go
package interfaces

import (
	"context"

	"github.com/pkg/errors"

	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/coupon/application"
	"flashmart/internal/service/coupon/domain"
)

// IssueConsumer 消费发放事件，驱动慢路径落库。
// 处理失败交给总线重试，重试耗尽进死信，绝不静默丢弃。
type IssueConsumer struct {
	svc *application.CouponService
}

func NewIssueConsumer(svc *application.CouponService) *IssueConsumer {
	return &IssueConsumer{svc: svc}
}

// Register 把处理器挂到指定 topic 上。
func (c *IssueConsumer) Register(bus eventbus.Bus, topic string) {
	bus.Subscribe(topic, c.Handle)
}

func (c *IssueConsumer) Handle(ctx context.Context, env eventbus.Envelope) error {
	switch env.Type {
	case domain.EventCouponIssueRequested:
		var ev domain.CouponIssueRequested
		if err := env.Decode(&ev); err != nil {
			return err
		}
		logger.Ctx(ctx).Info().
			Str("requestId", ev.RequestID).
			Int64("couponId", ev.CouponID).
			Int64("userId", ev.UserID).
			Msg("processing coupon issue request")
		return c.svc.PersistIssue(ctx, ev.RequestID, ev.CouponID, ev.UserID)
	default:
		// 未知类型说明发布方和消费方版本不一致，进死信人工处理
		return errors.Errorf("unknown event type %q on coupon topic", env.Type)
	}
}
