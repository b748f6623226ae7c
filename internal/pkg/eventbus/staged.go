// internal/pkg/eventbus/staged.go
package eventbus

import (
	"context"
	"sync"

	"flashmart/internal/pkg/logger"
)

// Staged 把事件暂存起来，直到外层事务提交后才真正发布。
// 用于防止订阅者看到一个随后被回滚的写入所对应的事件。
type Staged struct {
	bus Bus

	mu      sync.Mutex
	pending []stagedEvent
}

type stagedEvent struct {
	topic string
	ev    Event
}

func NewStaged(bus Bus) *Staged {
	return &Staged{bus: bus}
}

// Publish 只做暂存，不触达总线。
func (s *Staged) Publish(_ context.Context, topic string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, stagedEvent{topic: topic, ev: ev})
	return nil
}

// Flush 在事务提交之后调用，把暂存的事件逐条发布。
// 单条发布失败只记录日志：事务已经提交，事件不能再被丢回。
func (s *Staged) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range pending {
		if err := s.bus.Publish(ctx, p.topic, p.ev); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("topic", p.topic).
				Str("event", p.ev.EventName()).
				Msg("failed to publish staged event after commit")
		}
	}
}

// Discard 在事务回滚时调用，丢弃全部暂存事件。
func (s *Staged) Discard() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}
