// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心链路的业务指标。注册到默认 Registry，由 bootstrap 统一暴露 /metrics。
var (
	SagaCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_saga_completed_total",
		Help: "Number of order sagas that reached ORDER_CREATED.",
	})

	SagaFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_saga_failed_total",
		Help: "Number of order sagas that ended FAILED, by failure step.",
	}, []string{"step"})

	CompensationFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_saga_compensation_failed_total",
		Help: "Compensations that could not be applied; requires operator attention.",
	}, []string{"step"})

	CouponIssueResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_coupon_issue_total",
		Help: "Coupon issuance attempts by result (issued/exhausted/duplicate/expired).",
	}, []string{"result"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_dead_letters_total",
		Help: "Messages routed to the dead-letter channel, by topic.",
	}, []string{"topic"})

	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flashmart_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a keyed exclusive lock.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"backend"})
)
