// internal/service/coupon/infrastructure/request_store.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"flashmart/internal/errs"
	"flashmart/internal/pkg/redis"
	"flashmart/internal/service/coupon/domain"
)

const (
	couponRequestKey = "coupon:request:%s"
	requestTTL       = 24 * time.Hour
)

// RedisIssueRequestStore 把发放请求状态存成带 TTL 的 JSON 串。
// 请求状态只是查询辅助，过期丢失不影响发放本身的正确性。
type RedisIssueRequestStore struct {
	client *redis.Client
}

func NewRedisIssueRequestStore(client *redis.Client) *RedisIssueRequestStore {
	return &RedisIssueRequestStore{client: client}
}

func (s *RedisIssueRequestStore) Save(ctx context.Context, req *domain.IssueRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal issue request")
	}
	key := fmt.Sprintf(couponRequestKey, req.RequestID)
	if err := s.client.GetClient().Set(ctx, key, data, requestTTL).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

func (s *RedisIssueRequestStore) Find(ctx context.Context, requestID string) (*domain.IssueRequest, error) {
	key := fmt.Sprintf(couponRequestKey, requestID)
	data, err := s.client.GetClient().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errs.Newf(errs.KindNotFound, errs.CodeRequestNotFound, "request %s not found", requestID)
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	var req domain.IssueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrapf(err, "unmarshal request %s", requestID)
	}
	return &req, nil
}

var _ domain.IssueRequestStore = (*RedisIssueRequestStore)(nil)
