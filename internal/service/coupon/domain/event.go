// internal/service/coupon/domain/event.go
package domain

import (
	"fmt"
	"time"
)

const EventCouponIssueRequested = "coupon.issue.requested"

// CouponIssueRequested 在快路径裁决通过后发出，由发放 worker 异步落库。
// 分区键取券 ID：同一券池的落库串行，避免 issued_quantity 的写竞争。
type CouponIssueRequested struct {
	RequestID   string    `json:"requestId"`
	CouponID    int64     `json:"couponId"`
	UserID      int64     `json:"userId"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (e CouponIssueRequested) EventName() string { return EventCouponIssueRequested }

func (e CouponIssueRequested) PartitionKey() string { return fmt.Sprintf("coupon:%d", e.CouponID) }
