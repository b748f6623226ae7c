// internal/service/order/interfaces/saga_monitor.go
package interfaces

import (
	"time"

	"flashmart/internal/pkg/monitor"
	"flashmart/internal/service/order/domain"
)

// SagaBroadcaster 把 Saga 终态转成监控帧推给运维端。
type SagaBroadcaster struct {
	hub *monitor.Hub
}

func NewSagaBroadcaster(hub *monitor.Hub) *SagaBroadcaster {
	return &SagaBroadcaster{hub: hub}
}

func (b *SagaBroadcaster) SagaEnded(sagaID string, state domain.SagaState, step, reason string) {
	b.hub.Broadcast(monitor.Frame{
		Kind: "saga",
		At:   time.Now(),
		Detail: map[string]string{
			"sagaId": sagaID,
			"state":  string(state),
			"step":   step,
			"reason": reason,
		},
	})
}
