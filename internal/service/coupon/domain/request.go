// internal/service/coupon/domain/request.go
package domain

import (
	"context"
	"time"
)

// RequestStatus 是异步发放请求的状态。
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestCompleted RequestStatus = "COMPLETED"
	RequestFailed    RequestStatus = "FAILED"
)

// IssueRequest 记录一次异步发放请求，供调用方轮询结果。
type IssueRequest struct {
	RequestID   string        `json:"requestId"`
	CouponID    int64         `json:"couponId"`
	UserID      int64         `json:"userId"`
	Status      RequestStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	RequestedAt time.Time     `json:"requestedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// IssueRequestStore 保存请求状态，带 TTL，过期即查不到。
type IssueRequestStore interface {
	Save(ctx context.Context, req *IssueRequest) error
	Find(ctx context.Context, requestID string) (*IssueRequest, error)
}
